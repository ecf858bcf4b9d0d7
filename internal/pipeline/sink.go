package pipeline

import "context"

// Sink receives a run's output. Files passed to File are removed when the
// run ends, so implementations must copy or send them before returning.
type Sink interface {
	Progress(ctx context.Context, text string) error
	Text(ctx context.Context, text string) error
	File(ctx context.Context, path, mime, caption string) error
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Progress(context.Context, string) error             { return nil }
func (DiscardSink) Text(context.Context, string) error                 { return nil }
func (DiscardSink) File(context.Context, string, string, string) error { return nil }
