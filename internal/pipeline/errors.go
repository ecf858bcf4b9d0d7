package pipeline

import (
	"errors"
	"fmt"
)

// Kind is the closed set of ways a run can end.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidURL
	KindRateLimited
	KindDurationExceeded
	KindFileTooLarge
	KindNoMedia
	KindNoText
	KindTranscription
	KindEmptyAnalysis
	KindAnalysisFailed
	KindInternal
)

var kindNames = [...]string{
	KindNone:             "none",
	KindInvalidURL:       "invalid_url",
	KindRateLimited:      "rate_limited",
	KindDurationExceeded: "duration_exceeded",
	KindFileTooLarge:     "file_too_large",
	KindNoMedia:          "no_media",
	KindNoText:           "no_text",
	KindTranscription:    "transcription",
	KindEmptyAnalysis:    "empty_analysis",
	KindAnalysisFailed:   "analysis_failed",
	KindInternal:         "internal",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a classified run failure. Msg is safe to show to the user.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err: KindNone for nil, KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// User-facing messages for kinds whose text does not depend on the run.
const (
	msgInvalidURL    = "Invalid link. Send an http(s) URL of a video."
	msgProbeFailed   = "Could not read the video. Check that it is public and available."
	msgNoMedia       = "Could not download the audio. Check that the video is available."
	msgNoText        = "Could not extract meaningful text from the video."
	msgTranscription = "Transcription failed. Please try again later."
	msgInternal      = "Something went wrong while processing the video."
	msgCancelled     = "Processing was interrupted."
)
