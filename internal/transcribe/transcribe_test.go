package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rcliao/clip-memory/internal/logging"
	"github.com/rcliao/clip-memory/internal/openai"
)

func TestParseVerboseJSON(t *testing.T) {
	payload := `{
		"text": "  hello world. second part  ",
		"language": "english",
		"segments": [
			{"start": 0, "end": 1.5, "text": " hello world."},
			{"start": "1.5", "end": "3.25", "text": "second part"},
			{"start": null, "end": 4, "text": "no start"},
			{"start": "abc", "end": 4, "text": "bad start"},
			{"start": 5, "end": 4, "text": "backwards"},
			{"start": -1, "end": 4, "text": "negative"},
			"not an object"
		]
	}`
	tr, dropped, err := ParseVerboseJSON([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tr.Text != "hello world. second part" || tr.Language != "english" {
		t.Errorf("unexpected transcript %+v", tr)
	}
	if len(tr.Segments) != 2 || dropped != 5 {
		t.Fatalf("expected 2 kept / 5 dropped, got %d / %d", len(tr.Segments), dropped)
	}
	if tr.Segments[1].Start != 1.5 || tr.Segments[1].End != 3.25 || tr.Segments[0].Text != "hello world." {
		t.Errorf("unexpected segments %+v", tr.Segments)
	}
}

func TestParseVerboseJSONRejectsShapes(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`["text"]`,
		`{"segments": []}`,
		`{"text": 42}`,
		`{"text": "ok", "segments": "nope"}`,
	} {
		if _, _, err := ParseVerboseJSON([]byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", payload, err)
		}
	}

	tr, _, err := ParseVerboseJSON([]byte(`{"text": "plain", "segments": null}`))
	if err != nil || tr.HasSegments() {
		t.Errorf("null segments should parse as none: %+v %v", tr, err)
	}
}

func TestTranscribe(t *testing.T) {
	var gotLanguage, gotFormat, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		b, _ := io.ReadAll(f)
		if string(b) != "fake audio" {
			t.Errorf("unexpected upload %q", b)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"spoken words","segments":[{"start":0,"end":2,"text":"spoken words"}]}`)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.mp3")
	os.WriteFile(audio, []byte("fake audio"), 0o644)

	tr := New(openai.New(openai.Config{BaseURL: srv.URL}), "", "auto", logging.Discard())
	got, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Text != "spoken words" || !got.HasSegments() {
		t.Errorf("unexpected transcript %+v", got)
	}
	if gotLanguage != "" || gotFormat != "verbose_json" || gotModel != DefaultModel {
		t.Errorf("unexpected request fields language=%q format=%q model=%q", gotLanguage, gotFormat, gotModel)
	}
}

func TestTranscribeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "audio.mp3")
	os.WriteFile(audio, []byte("x"), 0o644)

	tr := New(openai.New(openai.Config{BaseURL: srv.URL}), "", "ru", logging.Discard())
	_, err := tr.Transcribe(context.Background(), audio)
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("expected wrapped API error, got %v", err)
	}

	if _, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Error("expected error for missing file")
	}
}
