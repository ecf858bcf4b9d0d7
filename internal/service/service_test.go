package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clip-memory/internal/config"
	"github.com/rcliao/clip-memory/internal/embedding"
	"github.com/rcliao/clip-memory/internal/extractor"
	"github.com/rcliao/clip-memory/internal/llm"
	"github.com/rcliao/clip-memory/internal/logging"
	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/pipeline"
)

// subtitleExtractor serves a fixed subtitle track per URL.
type subtitleExtractor struct {
	subs map[string]string
}

func (x *subtitleExtractor) Probe(ctx context.Context, url string) (*extractor.Info, error) {
	return &extractor.Info{ID: "id", Title: "Video " + url[len(url)-1:], Duration: 30}, nil
}

func (x *subtitleExtractor) CheckDuration(info *extractor.Info) error { return nil }

func (x *subtitleExtractor) Subtitles(ctx context.Context, info *extractor.Info, url, dir string) (string, bool) {
	body, ok := x.subs[url]
	if !ok {
		return "", false
	}
	path := filepath.Join(dir, "subs.vtt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", false
	}
	return path, true
}

func (x *subtitleExtractor) Audio(ctx context.Context, url, dir string) (string, error) {
	return "", extractor.ErrNoMedia
}

type noTranscriber struct{}

func (noTranscriber) Transcribe(ctx context.Context, path string) (*model.Transcript, error) {
	return nil, os.ErrNotExist
}

// routedModel answers analysis and memory prompts differently.
type routedModel struct {
	mu      sync.Mutex
	reports int
	answers int
	lastCtx string
}

func (m *routedModel) Complete(ctx context.Context, r llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.Contains(r.Instructions, "saved video analyses") {
		m.answers++
		m.lastCtx = r.Instructions
		return "Salt the water [1].", nil
	}
	m.reports++
	return "1. SUMMARY\nHow to cook pasta with salted water.\n\n2. CHECKLIST\n- boil", nil
}

const (
	pastaURL = "https://www.tiktok.com/@chef/video/1"
	taxURL   = "https://www.tiktok.com/@cpa/video/2"
)

func newTestService(t *testing.T, perMinute int) (*Service, *routedModel) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "memory.db")
	cfg.RateLimit.PerMinute = perMinute
	cfg.Embedding.Provider = "hash"

	m := &routedModel{}
	x := &subtitleExtractor{subs: map[string]string{
		pastaURL: "WEBVTT\n\n00:00.000 --> 00:05.000\nboil pasta in salted water for nine minutes\n",
		taxURL:   "WEBVTT\n\n00:00.000 --> 00:05.000\nfile your quarterly taxes before the deadline\n",
	}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s, err := New(context.Background(), cfg, logging.Discard(),
		WithExtractor(x),
		WithTranscriber(noTranscriber{}),
		WithModel(m),
		WithEmbedder(embedding.NewHashEmbedder(0)),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, m
}

func TestProcessStoresAnalysis(t *testing.T) {
	s, m := newTestService(t, 10)
	ctx := context.Background()

	res := s.Process(ctx, 42, pastaURL, pipeline.DiscardSink{})
	require.True(t, res.OK(), "run failed: %+v", res)
	assert.Equal(t, 1, m.reports)

	entries, err := s.Memory().GetAll(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pastaURL, entries[0].SourceURL)
	assert.Equal(t, model.ContentTypeVideo, entries[0].ContentType)
	assert.Contains(t, entries[0].Summary, "How to cook pasta")

	// Same content again is processed but not stored twice.
	res = s.Process(ctx, 42, pastaURL, pipeline.DiscardSink{})
	require.True(t, res.OK())
	entries, err = s.Memory().GetAll(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().MemoryDedupSkips))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics().PipelineRuns.WithLabelValues("none")))
}

func TestProcessRateLimited(t *testing.T) {
	s, m := newTestService(t, 1)
	ctx := context.Background()

	require.True(t, s.Process(ctx, 1, pastaURL, nil).OK())

	res := s.Process(ctx, 1, taxURL, nil)
	assert.Equal(t, pipeline.KindRateLimited, res.Kind)
	assert.Contains(t, res.Message, "minute limit exceeded (1 requests)")
	assert.Equal(t, 1, m.reports, "rejected request must not reach the model")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().RateLimitRejects.WithLabelValues("minute")))

	// Other users are unaffected.
	assert.True(t, s.Process(ctx, 2, taxURL, nil).OK())
}

func TestProcessFailureIsNotStored(t *testing.T) {
	s, _ := newTestService(t, 10)
	ctx := context.Background()

	res := s.Process(ctx, 5, "https://www.tiktok.com/@nobody/video/9", nil)
	assert.Equal(t, pipeline.KindNoMedia, res.Kind)

	stats, err := s.Memory().Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestAsk(t *testing.T) {
	s, m := newTestService(t, 10)
	ctx := context.Background()

	answer, hits, err := s.Ask(ctx, 9, "how long to boil pasta?")
	require.NoError(t, err)
	assert.Equal(t, NoMemoriesAnswer, answer)
	assert.Empty(t, hits)
	assert.Equal(t, 0, m.answers)

	require.True(t, s.Process(ctx, 9, pastaURL, nil).OK())
	require.True(t, s.Process(ctx, 9, taxURL, nil).OK())

	answer, hits, err = s.Ask(ctx, 9, "how long to boil pasta?")
	require.NoError(t, err)
	assert.Equal(t, "Salt the water [1].", answer)
	require.NotEmpty(t, hits)
	assert.Equal(t, pastaURL, hits[0].SourceURL)
	assert.Equal(t, 1, m.answers)
	assert.Contains(t, m.lastCtx, "[1] ")
	assert.Contains(t, m.lastCtx, "pasta")
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := newTestService(t, 10)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNewRejectsUnknownEmbedder(t *testing.T) {
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.Storage.SQLitePath = filepath.Join(cfg.WorkDir, "m.db")
	cfg.Embedding.Provider = "nope"

	_, err := New(context.Background(), cfg, logging.Discard(), WithModel(&routedModel{}))
	assert.ErrorContains(t, err, "embedder")
}

func TestNewFailsCleanlyWhenBackendFails(t *testing.T) {
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	blocker := filepath.Join(cfg.WorkDir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Storage.SQLitePath = filepath.Join(blocker, "memory.db")
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.BaseURL = "http://127.0.0.1:1"

	s, err := New(context.Background(), cfg, logging.Discard(), WithModel(&routedModel{}))
	require.ErrorContains(t, err, "open sqlite store")
	assert.Nil(t, s)
}
