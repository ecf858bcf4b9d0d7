// Package service wires the pipeline, memory and rate limiter into the one
// object transports talk to.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/clip-memory/internal/analyzer"
	"github.com/rcliao/clip-memory/internal/config"
	"github.com/rcliao/clip-memory/internal/embedding"
	"github.com/rcliao/clip-memory/internal/extractor"
	"github.com/rcliao/clip-memory/internal/llm"
	"github.com/rcliao/clip-memory/internal/memory"
	"github.com/rcliao/clip-memory/internal/metrics"
	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/openai"
	"github.com/rcliao/clip-memory/internal/pipeline"
	"github.com/rcliao/clip-memory/internal/ratelimit"
	"github.com/rcliao/clip-memory/internal/store"
	"github.com/rcliao/clip-memory/internal/transcribe"
)

// NoMemoriesAnswer is returned by Ask when nothing relevant is stored.
const NoMemoriesAnswer = "I don't have any saved videos related to that yet. Send a video link first."

// Service owns every long-lived component. Construct it once per process
// and Close it on shutdown.
type Service struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	pipeline *pipeline.Pipeline
	analyzer *analyzer.Analyzer
	memory   *memory.Store
	now      func() time.Time

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Option overrides a component, mainly for tests.
type Option func(*options)

type options struct {
	extractor   pipeline.Extractor
	transcriber pipeline.Transcriber
	model       llm.Model
	backend     store.Backend
	embedder    embedding.Embedder
	embedderSet bool
	metrics     *metrics.Metrics
	now         func() time.Time
}

func WithExtractor(x pipeline.Extractor) Option { return func(o *options) { o.extractor = x } }
func WithTranscriber(t pipeline.Transcriber) Option { return func(o *options) { o.transcriber = t } }
func WithModel(m llm.Model) Option { return func(o *options) { o.model = m } }
func WithBackend(b store.Backend) Option { return func(o *options) { o.backend = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder, o.embedderSet = e, true }
}

// New builds the service from cfg. Components not overridden by opts are
// created from configuration.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.now == nil {
		o.now = time.Now
	}

	s := &Service{cfg: cfg, log: log.WithField("component", "service"), metrics: o.metrics, now: o.now}
	ready := false
	defer func() {
		if !ready {
			s.Close()
		}
	}()

	oc := openai.New(openai.Config{
		BaseURL:           cfg.OpenAI.BaseURL,
		APIKey:            cfg.OpenAI.APIKey,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	})
	s.closers = append(s.closers, oc.Close)

	if o.model == nil {
		switch cfg.LLM.Provider {
		case "anthropic":
			o.model = llm.NewAnthropic(cfg.Anthropic.APIKey, cfg.LLM.Model)
		default:
			o.model = llm.NewOpenAI(oc, cfg.LLM.Model)
		}
	}

	if !o.embedderSet {
		emb, err := embedding.New(cfg.Embedding, oc, cfg.OpenAI.APIKey)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		o.embedder = emb
		if c, ok := emb.(io.Closer); ok {
			s.closers = append(s.closers, c.Close)
		}
	}

	if o.backend == nil {
		b, err := openBackend(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		o.backend = b
	}

	if o.extractor == nil {
		o.extractor = extractor.New(
			extractor.ExecRunner{Path: cfg.Media.YtDlpPath},
			extractor.Config{MaxFileSizeMB: cfg.Media.MaxFileSizeMB, MaxDurationMinutes: cfg.Media.MaxDurationMinutes},
			log,
		)
	}
	if o.transcriber == nil {
		o.transcriber = transcribe.New(oc, cfg.STT.Model, cfg.STT.Language, log)
	}

	s.analyzer = analyzer.New(o.model, analyzer.Config{
		Language:        cfg.LLM.AnalysisLanguage,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}, log, o.metrics)

	s.pipeline = pipeline.New(o.extractor, o.transcriber, s.analyzer, pipeline.Config{
		WorkDir:          cfg.WorkDir,
		MaxMessageLength: cfg.Output.MaxMessageLength,
		Now:              o.now,
	}, log)

	s.memory = memory.New(o.backend, o.embedder, memory.Config{
		MaxEntries:          cfg.Memory.MaxEntries,
		TopK:                cfg.Memory.TopK,
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
	}, log, o.metrics)
	s.closers = append(s.closers, s.memory.Close)

	s.limiter = ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		Now:       o.now,
	})

	s.log.WithFields(logrus.Fields{
		"llm":       cfg.LLM.Provider,
		"model":     cfg.LLM.Model,
		"embedding": cfg.Embedding.Provider,
		"storage":   cfg.Storage.Backend,
	}).Info("service ready")
	ready = true
	return s, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		b, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return b, nil
	default:
		b, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return b, nil
	}
}

// Process admits, runs and remembers one URL for userID. The result is
// never nil. A memory write failure is logged and does not affect it.
func (s *Service) Process(ctx context.Context, userID int64, url string, sink pipeline.Sink) *pipeline.Result {
	req := pipeline.Request{UserID: userID, URL: url}
	log := s.log.WithField("user_id", userID)

	allowed, window, reason := s.limiter.CheckWindow(userID)
	if !allowed {
		s.metrics.RateLimited(string(window))
		log.WithField("window", window).Info("rate limited")
		res := pipeline.Failure(req, pipeline.KindRateLimited, "⏱️ "+reason, nil)
		s.metrics.ObserveRun(res.Kind.String(), 0)
		return res
	}

	res := s.pipeline.Run(ctx, req, sink)
	s.metrics.ObserveRun(res.Kind.String(), res.Elapsed)

	if res.OK() && res.Transcript != nil {
		if stored := s.memory.Add(ctx, userID, res.Transcript.Text, res.Analysis, url, model.ContentTypeVideo); !stored {
			log.WithField("run_id", res.RunID).Info("analysis not added to memory")
		}
	}
	return res
}

// Ask answers query from the user's memory. hits are the recalled entries;
// with no hits the answer is NoMemoriesAnswer and no model call is made.
func (s *Service) Ask(ctx context.Context, userID int64, query string) (string, []model.ScoredEntry, error) {
	hits := s.memory.Search(ctx, userID, query, 0)
	if len(hits) == 0 {
		return NoMemoriesAnswer, nil, nil
	}
	c := memory.BuildContext(hits, memory.DefaultContextBudget, s.now())
	answer, err := s.analyzer.AnswerFromMemory(ctx, query, c.String())
	if err != nil {
		return "", hits, err
	}
	if answer == "" {
		return "", hits, errors.New("empty answer from model")
	}
	return answer, hits, nil
}

// Memory exposes the memory store for listing and maintenance commands.
func (s *Service) Memory() *memory.Store { return s.memory }

// Limiter exposes the rate limiter.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Metrics exposes the collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Pipeline exposes the orchestrator.
func (s *Service) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Close releases the store and provider clients. Later calls return the
// first call's result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
