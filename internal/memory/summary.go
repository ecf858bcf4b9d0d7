package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/clip-memory/internal/embedding"
)

const (
	summaryMaxChars      = 500
	summaryFallbackChars = 200
	summaryMaxLines      = 3
)

var (
	summaryMarkers = []string{"SUMMARY", "РЕЗЮМЕ"}
	sectionMarkers = []string{"CHECKLIST", "ЧЕКЛИСТ"}
)

// ExtractSummary pulls up to three lines following the SUMMARY heading of an
// analysis. Without a usable heading it falls back to the first 200 chars.
func ExtractSummary(analysis string) string {
	lines := strings.Split(analysis, "\n")

	start := -1
	for i, line := range lines {
		upper := strings.ToUpper(line)
		for _, m := range summaryMarkers {
			if strings.Contains(upper, m) {
				start = i
				break
			}
		}
		if start >= 0 {
			break
		}
	}

	if start >= 0 {
		var picked []string
		for _, line := range lines[start+1:] {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if endsSummary(trimmed) {
				break
			}
			picked = append(picked, trimmed)
			if len(picked) == summaryMaxLines {
				break
			}
		}
		if len(picked) > 0 {
			return embedding.Truncate(strings.Join(picked, " "), summaryMaxChars)
		}
	}

	return strings.TrimSpace(embedding.Truncate(analysis, summaryFallbackChars))
}

func endsSummary(line string) bool {
	if strings.HasPrefix(strings.TrimLeft(line, "#*_ "), "2.") {
		return true
	}
	upper := strings.ToUpper(line)
	for _, m := range sectionMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// Tokenize splits a query into distinct lower-case words.
func Tokenize(query string) []string {
	seen := map[string]bool{}
	var tokens []string
	for _, w := range words(query) {
		if seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// CountTokens counts case-insensitive occurrences of every token in text.
// Tokens of two or more runes match anywhere; a one-rune token only matches
// a whole word, so "5" finds "top 5 tips" but "a" does not find "pasta".
func CountTokens(text string, tokens []string) int {
	lower := strings.ToLower(text)
	var ws []string
	n := 0
	for _, t := range tokens {
		if utf8.RuneCountInString(t) > 1 {
			n += strings.Count(lower, t)
			continue
		}
		if ws == nil {
			ws = words(lower)
		}
		for _, w := range ws {
			if w == t {
				n++
			}
		}
	}
	return n
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
