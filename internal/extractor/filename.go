package extractor

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameRunes = 100

// SafeFilename makes a title usable as a file name on any common
// filesystem: NFKC-normalised, reserved and control characters replaced with
// "_", whitespace collapsed, at most 100 characters. Empty results become
// "video".
func SafeFilename(title string) string {
	title = norm.NFKC.String(title)

	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	name = strings.Trim(name, ". ")

	if r := []rune(name); len(r) > maxFilenameRunes {
		name = strings.TrimRight(string(r[:maxFilenameRunes]), ". ")
	}
	if name == "" {
		return "video"
	}
	return name
}

// ValidURL reports whether raw is an absolute http(s) URL with a host.
func ValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsTikTok reports whether raw points at TikTok.
func IsTikTok(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com")
}
