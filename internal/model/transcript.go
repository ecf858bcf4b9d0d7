package model

// Segment is a timed slice of a transcript, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the text produced from subtitles or speech recognition.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Language string    `json:"language,omitempty"`
}

// HasSegments reports whether timed segments are available.
func (t *Transcript) HasSegments() bool {
	return t != nil && len(t.Segments) > 0
}
