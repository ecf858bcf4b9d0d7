// Package transcribe turns downloaded audio into a timed transcript using an
// OpenAI-compatible speech endpoint.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/openai"
)

const DefaultModel = "whisper-1"

// ErrMalformed is wrapped by ParseVerboseJSON when the payload is not a
// transcription object.
var ErrMalformed = errors.New("malformed transcription response")

// Transcriber wraps the speech endpoint.
type Transcriber struct {
	client   *openai.Client
	model    string
	language string
	log      logrus.FieldLogger
}

// New creates a Transcriber. A language of "" or "auto" lets the provider
// detect it.
func New(client *openai.Client, model, language string, log logrus.FieldLogger) *Transcriber {
	if model == "" {
		model = DefaultModel
	}
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	return &Transcriber{client: client, model: model, language: language, log: log.WithField("component", "transcriber")}
}

// Transcribe uploads the audio file and returns the parsed transcript.
// Any failure is returned; there is no partial result.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	raw, err := t.client.Transcribe(ctx, openai.TranscriptionRequest{
		FilePath:       audioPath,
		Model:          t.model,
		Language:       t.language,
		ResponseFormat: "verbose_json",
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	tr, dropped, err := ParseVerboseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	t.log.WithFields(logrus.Fields{
		"chars":    len(tr.Text),
		"segments": len(tr.Segments),
		"dropped":  dropped,
		"language": tr.Language,
	}).Info("transcribed")
	return tr, nil
}

// ParseVerboseJSON converts a verbose_json response into a Transcript. The
// payload must be an object with a string "text". Segments with missing or
// non-numeric timestamps, or with end before start, are dropped and counted.
func ParseVerboseJSON(payload []byte) (*model.Transcript, int, error) {
	if !gjson.ValidBytes(payload) {
		return nil, 0, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, 0, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	text := root.Get("text")
	if text.Type != gjson.String {
		return nil, 0, fmt.Errorf("%w: missing text", ErrMalformed)
	}

	tr := &model.Transcript{
		Text:     strings.TrimSpace(text.String()),
		Language: root.Get("language").String(),
	}

	dropped := 0
	segs := root.Get("segments")
	if segs.Exists() && !segs.IsArray() && segs.Type != gjson.Null {
		return nil, 0, fmt.Errorf("%w: segments is not a list", ErrMalformed)
	}
	segs.ForEach(func(_, s gjson.Result) bool {
		seg, ok := parseSegment(s)
		if !ok {
			dropped++
			return true
		}
		tr.Segments = append(tr.Segments, seg)
		return true
	})
	return tr, dropped, nil
}

func parseSegment(s gjson.Result) (model.Segment, bool) {
	if !s.IsObject() {
		return model.Segment{}, false
	}
	start, ok := seconds(s.Get("start"))
	if !ok {
		return model.Segment{}, false
	}
	end, ok := seconds(s.Get("end"))
	if !ok || start < 0 || end < start {
		return model.Segment{}, false
	}
	return model.Segment{Start: start, End: end, Text: strings.TrimSpace(s.Get("text").String())}, true
}

// seconds accepts numbers and numeric strings.
func seconds(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	}
	return 0, false
}
