package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clip-memory/internal/config"
	"github.com/rcliao/clip-memory/internal/embedding"
	"github.com/rcliao/clip-memory/internal/extractor"
	"github.com/rcliao/clip-memory/internal/llm"
	"github.com/rcliao/clip-memory/internal/logging"
	"github.com/rcliao/clip-memory/internal/model"
	"github.com/rcliao/clip-memory/internal/pipeline"
	"github.com/rcliao/clip-memory/internal/service"
)

const videoURL = "https://www.youtube.com/shorts/abc"

type stubExtractor struct{}

func (stubExtractor) Probe(ctx context.Context, url string) (*extractor.Info, error) {
	if strings.Contains(url, "missing") {
		return nil, extractor.ErrNoMedia
	}
	return &extractor.Info{ID: "abc", Title: "Knife skills", Duration: 42}, nil
}

func (stubExtractor) CheckDuration(info *extractor.Info) error { return nil }

func (stubExtractor) Subtitles(ctx context.Context, info *extractor.Info, url, dir string) (string, bool) {
	if strings.Contains(url, "missing") {
		return "", false
	}
	path := filepath.Join(dir, "subs.vtt")
	body := "WEBVTT\n\n00:00.000 --> 00:04.000\nkeep your fingers curled when chopping onions\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", false
	}
	return path, true
}

func (stubExtractor) Audio(ctx context.Context, url, dir string) (string, error) {
	return "", extractor.ErrNoMedia
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, path string) (*model.Transcript, error) {
	return nil, os.ErrNotExist
}

type stubModel struct{}

func (stubModel) Complete(ctx context.Context, r llm.Request) (string, error) {
	if strings.Contains(r.Instructions, "saved video analyses") {
		return "Curl your fingers [1].", nil
	}
	return "1. SUMMARY\nSafe knife grip for chopping onions.", nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	return newTestService(t, t.TempDir(), stubExtractor{}).Handler()
}

func newTestService(t *testing.T, dir string, x pipeline.Extractor) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = dir
	cfg.Storage.SQLitePath = filepath.Join(dir, "memory.db")
	cfg.RateLimit.PerMinute = 2
	cfg.Embedding.Provider = "hash"

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := service.New(context.Background(), cfg, logging.Discard(),
		service.WithExtractor(x),
		service.WithTranscriber(stubTranscriber{}),
		service.WithModel(stubModel{}),
		service.WithEmbedder(embedding.NewHashEmbedder(0)),
		service.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return New(svc, logging.Discard())
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestProcessEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec, out := do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 7, "url": videoURL})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "none", out["kind"])
	assert.Equal(t, "subtitles", out["source"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	files, ok := out["files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 2)
	first := files[0].(map[string]any)
	assert.Equal(t, "Knife skills.txt", first["name"])
	assert.Contains(t, first["content"], "fingers curled")

	messages := out["messages"].([]any)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "Safe knife grip")

	_, out = do(t, h, http.MethodGet, "/v1/users/7/memories", nil)
	assert.Len(t, out["memories"], 1)
}

func TestProcessStatusCodes(t *testing.T) {
	h := newTestServer(t)

	rec, out := do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 1, "url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_url", out["kind"])

	rec, out = do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 1, "url": "https://www.youtube.com/shorts/missing"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_media", out["kind"])

	rec, out = do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 1, "url": videoURL})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", out["kind"])

	rec, _ = do(t, h, http.MethodPost, "/v1/process", map[string]any{"url": videoURL})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	h := newTestServer(t)
	rec, _ := do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 3, "url": videoURL})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := do(t, h, http.MethodPost, "/v1/search", map[string]any{"user_id": 3, "query": "chopping onions"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["results"], 1)

	rec, out = do(t, h, http.MethodPost, "/v1/ask", map[string]any{"user_id": 3, "query": "how do I hold a knife for onions?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Curl your fingers [1].", out["answer"])

	rec, out = do(t, h, http.MethodGet, "/v1/users/3/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, out["memory"].(map[string]any)["total_entries"])
	assert.Equal(t, 1.0, out["rate_limit"].(map[string]any)["minute_count"])

	rec, _ = do(t, h, http.MethodGet, "/v1/users/3/memories/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/v1/users/abc/memories", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, h, http.MethodDelete, "/v1/users/3/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, out["deleted"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)

	rec, out := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	do(t, h, http.MethodPost, "/v1/process", map[string]any{"user_id": 1, "url": videoURL})
	rec, _ = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pipeline_runs_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

// blockingExtractor holds the run in its metadata stage until ctx ends.
type blockingExtractor struct {
	stubExtractor
	started chan struct{}
}

func (x blockingExtractor) Probe(ctx context.Context, url string) (*extractor.Info, error) {
	close(x.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServeCancelsInflightRunsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	x := blockingExtractor{started: make(chan struct{})}
	srv := newTestService(t, dir, x)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	go func() {
		body := strings.NewReader(`{"user_id":1,"url":"` + videoURL + `"}`)
		resp, err := http.Post("http://"+ln.Addr().String()+"/v1/process", "application/json", body)
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-x.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never started")
	}
	runs, err := os.ReadDir(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, runs, 1, "run scratch directory should exist while the run is active")

	start := time.Now()
	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("Serve did not return before the shutdown timeout")
	}
	assert.Less(t, time.Since(start), 5*time.Second)

	runs, err = os.ReadDir(filepath.Join(dir, "runs"))
	if err == nil {
		assert.Empty(t, runs, "run scratch directory must be removed on shutdown")
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}
