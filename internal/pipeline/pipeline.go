// Package pipeline runs a video URL through extraction, transcription and
// analysis, delivering artifacts to a Sink and cleaning up after every run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/clip-memory/internal/analyzer"
	"github.com/rcliao/clip-memory/internal/chunker"
	"github.com/rcliao/clip-memory/internal/extractor"
	"github.com/rcliao/clip-memory/internal/model"
)

// MinTextLength is the shortest trimmed transcript worth analysing.
const MinTextLength = 10

// State is a step of a run.
type State string

const (
	StateIdle                State = "idle"
	StateExtractingSubtitles State = "extracting_subtitles"
	StateSubtitlesReady      State = "subtitles_ready"
	StateExtractingAudio     State = "extracting_audio"
	StateTranscribing        State = "transcribing"
	StateTranscriptReady     State = "transcript_ready"
	StateAnalyzing           State = "analyzing"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

var progressText = map[State]string{
	StateExtractingSubtitles: "📝 Checking for subtitles...",
	StateSubtitlesReady:      "✅ Subtitles found, converting to text...",
	StateExtractingAudio:     "🎵 No subtitles found. Downloading audio...",
	StateTranscribing:        "🎤 Transcribing audio...",
	StateTranscriptReady:     "📄 Transcript ready.",
	StateAnalyzing:           "🧠 Analysing content...",
	StateDone:                "🎉 Analysis complete.",
}

// Extractor fetches metadata, subtitles and audio.
type Extractor interface {
	Probe(ctx context.Context, url string) (*extractor.Info, error)
	CheckDuration(info *extractor.Info) error
	Subtitles(ctx context.Context, info *extractor.Info, url, dir string) (string, bool)
	Audio(ctx context.Context, url, dir string) (string, error)
}

// Transcriber turns audio into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
}

// Analyzer produces the report for a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, text string, segments []model.Segment) analyzer.Result
}

// Config configures a Pipeline.
type Config struct {
	WorkDir          string
	MaxMessageLength int
	Now              func() time.Time
}

// Request is one URL submitted by one user.
type Request struct {
	UserID int64
	URL    string
}

// Result is the outcome of a run. Kind is KindNone on success; otherwise
// Message is a user-facing explanation.
type Result struct {
	RunID          string            `json:"run_id"`
	UserID         int64             `json:"user_id"`
	URL            string            `json:"url"`
	Title          string            `json:"title,omitempty"`
	State          State             `json:"state"`
	Kind           Kind              `json:"kind"`
	Message        string            `json:"message,omitempty"`
	Source         string            `json:"source,omitempty"` // "subtitles" or "audio"
	Transcript     *model.Transcript `json:"transcript,omitempty"`
	Analysis       string            `json:"analysis,omitempty"`
	AnalysisStatus analyzer.Status   `json:"-"`
	Elapsed        time.Duration     `json:"elapsed_ns"`
	Err            error             `json:"-"`
}

// OK reports whether the run produced an analysis.
func (r *Result) OK() bool { return r.Kind == KindNone }

// Failure builds a result for a run rejected before it started.
func Failure(req Request, kind Kind, msg string, err error) *Result {
	return &Result{
		UserID:  req.UserID,
		URL:     req.URL,
		State:   StateFailed,
		Kind:    kind,
		Message: msg,
		Err:     &Error{Kind: kind, Msg: msg, Err: err},
	}
}

// Pipeline sequences Extractor, Transcriber and Analyzer for one URL.
type Pipeline struct {
	extractor   Extractor
	transcriber Transcriber
	analyzer    Analyzer
	cfg         Config
	log         logrus.FieldLogger
}

// New creates a Pipeline.
func New(x Extractor, t Transcriber, a Analyzer, cfg Config, log logrus.FieldLogger) *Pipeline {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = chunker.DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{extractor: x, transcriber: t, analyzer: a, cfg: cfg, log: log.WithField("component", "pipeline")}
}

// run carries per-run state through the steps.
type run struct {
	scope *Scope
	sink  Sink
	log   logrus.FieldLogger
	res   *Result
	info  *extractor.Info

	// noInfo is set when metadata could not be read; duration is then unknown.
	noInfo bool
}

// Run processes req. It always returns a Result and removes every artifact
// it created before returning, whatever the outcome, including panics in a
// collaborator.
func (p *Pipeline) Run(ctx context.Context, req Request, sink Sink) (res *Result) {
	start := p.cfg.Now()
	if sink == nil {
		sink = DiscardSink{}
	}
	res = &Result{UserID: req.UserID, URL: req.URL, State: StateIdle}

	scope, err := NewScope(p.cfg.WorkDir)
	if err != nil {
		p.log.WithError(err).Error("create run scope")
		return p.fail(&run{res: res, log: p.log}, KindInternal, msgInternal, err)
	}
	res.RunID = scope.ID

	// In-flight provider calls of this run are cancelled on teardown.
	ctx, cancel := context.WithCancel(ctx)
	scope.OnClose(func() error { cancel(); return nil })

	r := &run{
		scope: scope,
		sink:  sink,
		res:   res,
		log:   p.log.WithFields(logrus.Fields{"run_id": scope.ID, "user_id": req.UserID}),
	}

	defer func() {
		if v := recover(); v != nil {
			r.log.WithField("panic", v).Error("run panicked")
			res = p.fail(r, KindInternal, msgInternal, fmt.Errorf("panic: %v", v))
		}
		if err := scope.Close(); err != nil {
			r.log.WithError(err).Warn("run cleanup incomplete")
		}
		res.Elapsed = p.cfg.Now().Sub(start)
		r.log.WithFields(logrus.Fields{
			"kind":    res.Kind,
			"state":   res.State,
			"elapsed": res.Elapsed.Round(time.Millisecond),
		}).Info("run finished")
	}()

	return p.process(ctx, r, req.URL)
}

func (p *Pipeline) process(ctx context.Context, r *run, url string) *Result {
	if !extractor.ValidURL(url) {
		return p.fail(r, KindInvalidURL, msgInvalidURL, nil)
	}

	info, err := p.extractor.Probe(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return p.fail(r, KindInternal, msgCancelled, ctx.Err())
		}
		r.log.WithError(err).Warn("metadata unavailable, trying downloads without a duration check")
		info, r.noInfo = &extractor.Info{}, true
	}
	r.info = info
	r.res.Title = info.Title

	if err := p.extractor.CheckDuration(info); err != nil {
		var de *extractor.DurationError
		if errors.As(err, &de) {
			msg := fmt.Sprintf("Video is too long (%.1f min). Maximum duration: %d min.", de.Minutes, de.Limit)
			return p.fail(r, KindDurationExceeded, msg, err)
		}
		return p.fail(r, KindInternal, msgInternal, err)
	}

	tr, failed := p.transcript(ctx, r, url)
	if failed != nil {
		return failed
	}
	r.res.Transcript = tr

	if len(strings.TrimSpace(tr.Text)) < MinTextLength {
		return p.fail(r, KindNoText, msgNoText, nil)
	}

	if err := p.deliverTranscript(ctx, r, tr); err != nil {
		return p.fail(r, KindInternal, msgInternal, err)
	}

	p.transition(ctx, r, StateAnalyzing)
	analysis, path, status := p.AnalyzeContent(ctx, r.scope, tr.Text, tr.Segments, ReportMeta{Title: info.Title, URL: url})
	r.res.AnalysisStatus = status
	switch status {
	case analyzer.StatusEmpty:
		return p.fail(r, KindEmptyAnalysis, analyzer.EmptyAnalysisMessage, nil)
	case analyzer.StatusFailed:
		return p.fail(r, KindAnalysisFailed, analyzer.FailedAnalysisMessage, nil)
	}
	r.res.Analysis = analysis

	if path != "" {
		p.send(r, "file", r.sink.File(ctx, path, "text/plain", "🧠 Video analysis"))
	}
	for _, chunk := range p.SplitMessage(analysis) {
		p.send(r, "text", r.sink.Text(ctx, chunk))
	}

	p.transition(ctx, r, StateDone)
	return r.res
}

// transcript returns subtitle text when available and meaningful, and the
// audio transcription otherwise. A non-nil *Result means the run failed.
func (p *Pipeline) transcript(ctx context.Context, r *run, url string) (*model.Transcript, *Result) {
	p.transition(ctx, r, StateExtractingSubtitles)
	if path, ok := p.extractor.Subtitles(ctx, r.info, url, r.scope.Dir); ok {
		r.scope.Track(path)
		text, err := extractor.SubtitleFile(path)
		switch {
		case err != nil:
			r.log.WithError(err).Warn("read subtitles")
		case len(strings.TrimSpace(text)) < MinTextLength:
			r.log.WithField("chars", len(text)).Info("subtitles too short, falling back to audio")
		default:
			p.transition(ctx, r, StateSubtitlesReady)
			r.res.Source = "subtitles"
			return &model.Transcript{Text: text, Language: r.info.Language}, nil
		}
	}

	p.transition(ctx, r, StateExtractingAudio)
	audio, err := p.extractor.Audio(ctx, url, r.scope.Dir)
	if err != nil {
		var fe *extractor.FileSizeError
		switch {
		case errors.As(err, &fe):
			msg := fmt.Sprintf("File is too large (%.1f MB). Maximum size: %d MB.", fe.SizeMB, fe.LimitMB)
			return nil, p.fail(r, KindFileTooLarge, msg, err)
		case ctx.Err() != nil:
			return nil, p.fail(r, KindInternal, msgCancelled, ctx.Err())
		case r.noInfo:
			return nil, p.fail(r, KindNoMedia, msgProbeFailed, err)
		default:
			return nil, p.fail(r, KindNoMedia, msgNoMedia, err)
		}
	}
	r.scope.Track(audio)

	p.transition(ctx, r, StateTranscribing)
	tr, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, p.fail(r, KindTranscription, msgTranscription, err)
	}
	p.transition(ctx, r, StateTranscriptReady)
	r.res.Source = "audio"
	return tr, nil
}

func (p *Pipeline) deliverTranscript(ctx context.Context, r *run, tr *model.Transcript) error {
	name := extractor.SafeFilename(r.info.Title)
	path := filepath.Join(r.scope.Dir, name+".txt")
	if err := os.WriteFile(path, []byte(tr.Text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	r.scope.Track(path)
	p.send(r, "file", r.sink.File(ctx, path, "text/plain", "📄 Extracted video text"))
	return nil
}

// SplitMessage cuts text into chunks that fit one outbound message.
func (p *Pipeline) SplitMessage(text string) []string {
	return chunker.SplitMessage(text, p.cfg.MaxMessageLength)
}

func (p *Pipeline) transition(ctx context.Context, r *run, s State) {
	r.log.WithField("state", s).WithField("from", r.res.State).Debug("transition")
	r.res.State = s
	if text, ok := progressText[s]; ok {
		p.send(r, "progress", r.sink.Progress(ctx, text))
	}
}

// send logs delivery failures. The transport owns retries.
func (p *Pipeline) send(r *run, what string, err error) {
	if err != nil {
		r.log.WithError(err).WithField("what", what).Warn("sink delivery failed")
	}
}

func (p *Pipeline) fail(r *run, kind Kind, msg string, err error) *Result {
	entry := r.log.WithFields(logrus.Fields{"kind": kind, "state": r.res.State})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("run failed")

	r.res.State = StateFailed
	r.res.Kind = kind
	r.res.Message = msg
	r.res.Err = &Error{Kind: kind, Msg: msg, Err: err}
	return r.res
}
