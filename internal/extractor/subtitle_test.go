package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSubtitleTextVTT(t *testing.T) {
	raw := "\ufeffWEBVTT\nKind: captions\nLanguage: en\n\n" +
		"NOTE this is a comment\nspanning lines\n\n" +
		"00:00:00.000 --> 00:00:02.000 align:start position:0%\n" +
		"hello <c.colorE5E5E5>world</c>\n\n" +
		"00:00:02.000 --> 00:00:04.000\n" +
		"hello world\n" +
		"this &amp; that\n\n" +
		"01:00:04.000 --> 01:00:06.000\n" +
		"<00:00:04.500><c>last</c> line\n"

	want := "hello world\nthis & that\nlast line"
	if got := SubtitleText(raw); got != want {
		t.Errorf("SubtitleText =\n%q\nwant\n%q", got, want)
	}
}

func TestSubtitleTextSRT(t *testing.T) {
	raw := "1\r\n00:00:01,000 --> 00:00:02,500\r\n<i>First</i> line\r\n\r\n" +
		"2\r\n00:00:02,500 --> 00:00:04,000\r\n{\\an8}Second   line\r\n"

	want := "First line\nSecond line"
	if got := SubtitleText(raw); got != want {
		t.Errorf("SubtitleText = %q, want %q", got, want)
	}
}

func TestSubtitleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.en.vtt")
	os.WriteFile(path, []byte("WEBVTT\n\n00:00.000 --> 00:01.000\nshort form\n"), 0o644)

	got, err := SubtitleFile(path)
	if err != nil || got != "short form" {
		t.Errorf("SubtitleFile = %q, %v", got, err)
	}
	if _, err := SubtitleFile(filepath.Join(t.TempDir(), "missing.vtt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"How to Cook: Pasta?", "How to Cook_ Pasta_"},
		{"  spaced \t\n  out  ", "spaced out"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{"Ｆｕｌｌｗｉｄｔｈ", "Fullwidth"},
		{"Привет мир", "Привет мир"},
		{"a\x00b", "a_b"},
		{"...", "video"},
		{"", "video"},
		{strings.Repeat("я", 150), strings.Repeat("я", 100)},
	}
	for _, tt := range tests {
		if got := SafeFilename(tt.in); got != tt.want {
			t.Errorf("SafeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestURLHelpers(t *testing.T) {
	if !ValidURL("https://youtu.be/x") || ValidURL("ftp://host/x") || ValidURL("not a url") || ValidURL("https://") {
		t.Error("ValidURL misclassified")
	}
	if !IsTikTok("https://vm.tiktok.com/abc") || !IsTikTok("https://tiktok.com/@a") || IsTikTok("https://nottiktok.com/") {
		t.Error("IsTikTok misclassified")
	}
}
