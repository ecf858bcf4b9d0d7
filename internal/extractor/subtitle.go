package extractor

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	cueTimingRe = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?[.,]\d{3}\s+-->`)
	cueIndexRe  = regexp.MustCompile(`^\d+$`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	bracketRe   = regexp.MustCompile(`\{[^}]*\}`)
)

// SubtitleFile reads a .vtt or .srt file and returns its spoken text.
func SubtitleFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read subtitles: %w", err)
	}
	return SubtitleText(string(data)), nil
}

// SubtitleText strips cue numbers, timings, headers and markup from VTT or
// SRT content. Consecutive repeated lines, common in rolling auto captions,
// are collapsed.
func SubtitleText(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")

	var lines []string
	skipBlock := false
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			skipBlock = false
			continue
		}
		if skipBlock {
			continue
		}
		switch {
		case strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"):
			continue
		case strings.HasPrefix(line, "NOTE"),
			strings.HasPrefix(line, "STYLE"),
			strings.HasPrefix(line, "REGION"):
			skipBlock = true
			continue
		case cueIndexRe.MatchString(line), cueTimingRe.MatchString(line):
			continue
		}

		line = tagRe.ReplaceAllString(line, "")
		line = bracketRe.ReplaceAllString(line, "")
		line = strings.Join(strings.Fields(unescapeEntities(line)), " ")
		if line == "" {
			continue
		}
		if n := len(lines); n > 0 && lines[n-1] == line {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func unescapeEntities(s string) string {
	return entityReplacer.Replace(s)
}
