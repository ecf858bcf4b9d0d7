// Package chunker splits long text into message-sized chunks for chat
// transports, preferring section and paragraph boundaries.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxSize is the usual chat message ceiling, in characters.
const DefaultMaxSize = 4000

// SplitMessage splits text into chunks of at most max characters (runes).
// Chunks break on headings and blank lines when possible, then on line
// boundaries, then on whitespace, and only as a last resort inside a word.
// Whitespace-only text yields nil.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= max {
		return []string{text}
	}
	return mergeBlocks(splitBlocks(text), max)
}

// splitBlocks splits text on heading lines and blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if isHeading(trimmed) {
			flush()
		}
		current = append(current, strings.TrimRightFunc(line, unicode.IsSpace))
	}
	flush()
	return blocks
}

// isHeading matches markdown headings and the numbered section titles the
// analysis report uses ("2. CHECKLIST").
func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i > 2 || i+1 >= len(line) || line[i] != '.' || line[i+1] != ' ' {
		return false
	}
	rest := line[i+2:]
	return rest != "" && strings.ToUpper(rest) == rest && strings.IndexFunc(rest, unicode.IsLetter) >= 0
}

// mergeBlocks packs blocks into chunks up to max, splitting oversized ones.
func mergeBlocks(blocks []string, max int) []string {
	var chunks []string
	var accum string

	flushAccum := func() {
		if accum != "" {
			chunks = append(chunks, accum)
		}
		accum = ""
	}

	for _, b := range blocks {
		if runeLen(b) > max {
			flushAccum()
			chunks = append(chunks, hardSplit(b, max)...)
			continue
		}
		if accum == "" {
			accum = b
			continue
		}
		combined := accum + "\n\n" + b
		if runeLen(combined) <= max {
			accum = combined
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()
	return chunks
}

// hardSplit breaks text that exceeds max on line boundaries, splitting
// single overlong lines with splitLine.
func hardSplit(text string, max int) []string {
	var chunks []string
	var current []string
	curLen := 0

	flush := func() {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			chunks = append(chunks, t)
		}
		current = nil
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		n := runeLen(line)
		if n > max {
			flush()
			chunks = append(chunks, splitLine(line, max)...)
			continue
		}
		if len(current) > 0 && curLen+1+n > max {
			flush()
		}
		if len(current) > 0 {
			curLen++ // newline
		}
		current = append(current, line)
		curLen += n
	}
	flush()
	return chunks
}

// splitLine cuts a single line into pieces of at most max runes, at the last
// whitespace inside the window when there is one.
func splitLine(line string, max int) []string {
	var pieces []string
	r := []rune(strings.TrimSpace(line))
	for len(r) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(r[i]) {
				cut = i
				break
			}
		}
		if p := strings.TrimSpace(string(r[:cut])); p != "" {
			pieces = append(pieces, p)
		}
		r = []rune(strings.TrimLeftFunc(string(r[cut:]), unicode.IsSpace))
	}
	if p := strings.TrimSpace(string(r)); p != "" {
		pieces = append(pieces, p)
	}
	return pieces
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
