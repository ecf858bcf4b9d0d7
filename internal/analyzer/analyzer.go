// Package analyzer produces the structured video report and memory-grounded
// answers on top of a language model.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/clip-memory/internal/llm"
	"github.com/rcliao/clip-memory/internal/metrics"
	"github.com/rcliao/clip-memory/internal/model"
)

const (
	EmptyAnalysisMessage  = "The model returned an empty analysis. Try another video or retry later."
	FailedAnalysisMessage = "❌ Analysis failed. Please try again later."

	maxAttempts    = 3
	simpleInputCap = 4000
)

// Status classifies an analysis result.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is always displayable: on Empty or Failed, Text holds the fixed
// user-facing message.
type Result struct {
	Text   string
	Status Status
}

// Config configures an Analyzer.
type Config struct {
	Language        string
	MaxOutputTokens int
	// BackoffBase is multiplied by 2^attempt between retries. Defaults to 1s.
	BackoffBase time.Duration
}

// Analyzer wraps a language model with the report prompt and retry policy.
type Analyzer struct {
	model   llm.Model
	cfg     Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates an Analyzer. m may be nil.
func New(lm llm.Model, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Analyzer {
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4000
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Analyzer{model: lm, cfg: cfg, log: log.WithField("component", "analyzer"), metrics: m}
}

// Analyze produces the seven-section report for text. Transient provider
// errors are retried up to three attempts with exponential backoff. A
// successful but empty answer triggers one simplified request.
func (a *Analyzer) Analyze(ctx context.Context, text string, segments []model.Segment) Result {
	req := llm.Request{
		Instructions:    ReportInstructions(a.cfg.Language, len(segments) > 0),
		Input:           ReportInput(text, segments),
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	}
	log := a.log.WithField("input_chars", len(req.Input))

	var (
		out     string
		attempt int
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		start := time.Now()
		o, err := a.model.Complete(ctx, req)
		if err != nil {
			if !llm.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = strings.TrimSpace(o)
		log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"output_chars": len(out),
			"elapsed":      time.Since(start).Round(time.Millisecond),
		}).Info("analysis response")
		return nil
	}, a.retryPolicy(ctx), func(err error, wait time.Duration) {
		a.metrics.AnalyzerAttempt("retry")
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warn("transient analysis error, retrying")
	})
	if err != nil {
		a.metrics.AnalyzerAttempt("failed")
		log.WithError(err).WithField("attempt", attempt).Error("analysis failed")
		return Result{Text: FailedAnalysisMessage, Status: StatusFailed}
	}
	if out == "" {
		a.metrics.AnalyzerAttempt("empty")
		return a.simplified(ctx, text)
	}
	a.metrics.AnalyzerAttempt("ok")
	return Result{Text: out, Status: StatusOK}
}

// retryPolicy waits BackoffBase, then twice that, without jitter, for at
// most maxAttempts calls in total. It stops when ctx ends.
func (a *Analyzer) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.BackoffBase << maxAttempts
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
}

func (a *Analyzer) simplified(ctx context.Context, text string) Result {
	a.log.Warn("empty analysis, trying simplified prompt")
	out, err := a.model.Complete(ctx, llm.Request{
		Instructions:    fmt.Sprintf(simpleInstructions, a.cfg.Language),
		Input:           "Summarise in 5 points:\n\n" + truncate(text, simpleInputCap),
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	})
	if err != nil {
		a.log.WithError(err).Error("simplified analysis failed")
		return Result{Text: EmptyAnalysisMessage, Status: StatusEmpty}
	}
	if out = strings.TrimSpace(out); out == "" {
		a.log.Error("simplified analysis also empty")
		return Result{Text: EmptyAnalysisMessage, Status: StatusEmpty}
	}
	return Result{Text: out, Status: StatusOK}
}

// AnswerFromMemory answers query from recalled notes with a single call.
func (a *Analyzer) AnswerFromMemory(ctx context.Context, query, notes string) (string, error) {
	out, err := a.model.Complete(ctx, llm.Request{
		Instructions:    fmt.Sprintf(memoryInstructions, a.cfg.Language, notes),
		Input:           query,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("answer from memory: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
