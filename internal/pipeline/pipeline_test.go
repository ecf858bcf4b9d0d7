package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/clip-memory/internal/analyzer"
	"github.com/rcliao/clip-memory/internal/extractor"
	"github.com/rcliao/clip-memory/internal/logging"
	"github.com/rcliao/clip-memory/internal/model"
)

const testURL = "https://www.tiktok.com/@chef/video/1"

type fakeExtractor struct {
	checker  *extractor.Extractor
	info     *extractor.Info
	probeErr error
	subs     string // subtitle file body; empty means no subtitles
	audio    []byte
	audioErr error

	mu            sync.Mutex
	subtitleCalls int
	audioCalls    int
	written       []string
}

func (f *fakeExtractor) Probe(ctx context.Context, url string) (*extractor.Info, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.info, nil
}

func (f *fakeExtractor) CheckDuration(info *extractor.Info) error {
	return f.checker.CheckDuration(info)
}

func (f *fakeExtractor) Subtitles(ctx context.Context, info *extractor.Info, url, dir string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtitleCalls++
	if f.subs == "" {
		return "", false
	}
	path := filepath.Join(dir, "subs.en.vtt")
	os.WriteFile(path, []byte(f.subs), 0o644)
	f.written = append(f.written, path)
	return path, true
}

func (f *fakeExtractor) Audio(ctx context.Context, url, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioCalls++
	if f.audioErr != nil {
		return "", f.audioErr
	}
	path := filepath.Join(dir, "audio.mp3")
	os.WriteFile(path, f.audio, 0o644)
	f.written = append(f.written, path)
	return path, nil
}

type fakeTranscriber struct {
	tr    *model.Transcript
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	f.calls++
	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}
	return f.tr, f.err
}

type fakeAnalyzer struct {
	res      analyzer.Result
	panics   bool
	calls    int
	text     string
	segments []model.Segment
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string, segments []model.Segment) analyzer.Result {
	f.calls++
	f.text, f.segments = text, segments
	if f.panics {
		panic("model exploded")
	}
	return f.res
}

type sentFile struct {
	name, body, caption string
}

type recordingSink struct {
	progress []string
	texts    []string
	files    []sentFile
}

func (s *recordingSink) Progress(_ context.Context, text string) error {
	s.progress = append(s.progress, text)
	return nil
}

func (s *recordingSink) Text(_ context.Context, text string) error {
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) File(_ context.Context, path, mime, caption string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.files = append(s.files, sentFile{name: filepath.Base(path), body: string(body), caption: caption})
	return nil
}

type harness struct {
	workDir string
	x       *fakeExtractor
	t       *fakeTranscriber
	a       *fakeAnalyzer
	p       *Pipeline
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logging.Discard()
	h := &harness{
		workDir: t.TempDir(),
		x: &fakeExtractor{
			checker: extractor.New(nil, extractor.Config{MaxDurationMinutes: 10}, log),
			info:    &extractor.Info{ID: "1", Title: "Pasta: the secret?", Duration: 60, Language: "en"},
			audio:   []byte("mp3"),
		},
		t: &fakeTranscriber{tr: &model.Transcript{
			Text:     "boil the water and add plenty of salt",
			Segments: []model.Segment{{Start: 0, End: 3, Text: "boil the water"}, {Start: 3, End: 6, Text: "add plenty of salt"}},
		}},
		a: &fakeAnalyzer{res: analyzer.Result{Text: "1. SUMMARY\nSalt the water.", Status: analyzer.StatusOK}},
	}
	h.p = New(h.x, h.t, h.a, Config{WorkDir: h.workDir, MaxMessageLength: 4000, Now: func() time.Time { return fixedNow }}, log)
	return h
}

func (h *harness) run(t *testing.T, sink Sink) *Result {
	t.Helper()
	return h.p.Run(context.Background(), Request{UserID: 7, URL: testURL}, sink)
}

// assertClean checks that no run directory or downloaded artifact survived.
func (h *harness) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.workDir, "runs"))
	require.NoError(t, err)
	assert.Empty(t, entries, "run directories left behind")
	for _, p := range h.x.written {
		assert.NoFileExists(t, p)
	}
}

func TestRunWithSubtitlesSkipsAudio(t *testing.T) {
	h := newHarness(t)
	h.x.subs = "WEBVTT\n\n00:00.000 --> 00:02.000\nsalt your pasta water generously\n"
	sink := &recordingSink{}

	res := h.run(t, sink)

	require.True(t, res.OK(), "unexpected failure: %+v", res)
	assert.Equal(t, "subtitles", res.Source)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, h.x.audioCalls)
	assert.Equal(t, 0, h.t.calls)
	assert.Equal(t, "salt your pasta water generously", h.a.text)
	assert.Nil(t, h.a.segments)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, sink.files, 2)
	assert.Equal(t, "Pasta_ the secret_.txt", sink.files[0].name)
	assert.Equal(t, "salt your pasta water generously", sink.files[0].body)
	assert.Equal(t, "Analysis_20240102_030405.txt", sink.files[1].name)
	assert.Equal(t, []string{"1. SUMMARY\nSalt the water."}, sink.texts)
	assert.Contains(t, sink.progress, progressText[StateSubtitlesReady])
	assert.NotContains(t, sink.progress, progressText[StateExtractingAudio])

	h.assertClean(t)
}

func TestRunFallsBackToAudio(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, &recordingSink{})

	require.True(t, res.OK(), "unexpected failure: %+v", res)
	assert.Equal(t, "audio", res.Source)
	assert.Equal(t, 1, h.x.subtitleCalls)
	assert.Equal(t, 1, h.x.audioCalls)
	assert.Equal(t, 1, h.t.calls)
	assert.Len(t, h.a.segments, 2)
	assert.Equal(t, h.t.tr, res.Transcript)

	h.assertClean(t)
}

func TestRunShortSubtitlesFallBackToAudio(t *testing.T) {
	h := newHarness(t)
	h.x.subs = "WEBVTT\n\n00:00.000 --> 00:02.000\n[music]\n"

	res := h.run(t, nil)

	require.True(t, res.OK())
	assert.Equal(t, "audio", res.Source)
	assert.Equal(t, 1, h.x.audioCalls)
	assert.Len(t, h.x.written, 2)
	h.assertClean(t)
}

func TestRunRejectsLongVideoBeforeDownload(t *testing.T) {
	h := newHarness(t)
	h.x.info.Duration = 15 * 60

	res := h.run(t, &recordingSink{})

	assert.Equal(t, KindDurationExceeded, res.Kind)
	assert.Contains(t, res.Message, "15.0")
	assert.Contains(t, res.Message, "10")
	var de *extractor.DurationError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, 10, de.Limit)
	assert.Equal(t, 0, h.x.subtitleCalls)
	assert.Equal(t, 0, h.x.audioCalls)
	h.assertClean(t)
}

func TestRunContinuesWithoutMetadata(t *testing.T) {
	h := newHarness(t)
	h.x.probeErr = errors.New("metadata request blocked")
	sink := &recordingSink{}

	res := h.run(t, sink)

	require.True(t, res.OK(), "run failed: %+v", res)
	assert.Equal(t, "audio", res.Source)
	assert.Equal(t, 1, h.x.audioCalls)
	require.NotEmpty(t, sink.files)
	assert.Equal(t, "video.txt", sink.files[0].name)
	h.assertClean(t)
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		url   string
		kind  Kind
		want  string
	}{
		{
			name: "invalid url",
			url:  "not a link",
			kind: KindInvalidURL,
			want: msgInvalidURL,
		},
		{
			name: "metadata and downloads fail",
			setup: func(h *harness) {
				h.x.probeErr = errors.New("private video")
				h.x.audioErr = extractor.ErrNoMedia
			},
			kind:  KindNoMedia,
			want:  msgProbeFailed,
		},
		{
			name:  "no media",
			setup: func(h *harness) { h.x.audioErr = extractor.ErrNoMedia },
			kind:  KindNoMedia,
			want:  msgNoMedia,
		},
		{
			name:  "file too large",
			setup: func(h *harness) { h.x.audioErr = &extractor.FileSizeError{SizeMB: 72.3, LimitMB: 50} },
			kind:  KindFileTooLarge,
			want:  "File is too large (72.3 MB). Maximum size: 50 MB.",
		},
		{
			name:  "transcription fails",
			setup: func(h *harness) { h.t.err = errors.New("stt down") },
			kind:  KindTranscription,
			want:  msgTranscription,
		},
		{
			name:  "too little text",
			setup: func(h *harness) { h.t.tr = &model.Transcript{Text: "  hmm  "} },
			kind:  KindNoText,
			want:  msgNoText,
		},
		{
			name:  "empty analysis",
			setup: func(h *harness) { h.a.res = analyzer.Result{Text: analyzer.EmptyAnalysisMessage, Status: analyzer.StatusEmpty} },
			kind:  KindEmptyAnalysis,
			want:  analyzer.EmptyAnalysisMessage,
		},
		{
			name:  "analysis failed",
			setup: func(h *harness) { h.a.res = analyzer.Result{Text: analyzer.FailedAnalysisMessage, Status: analyzer.StatusFailed} },
			kind:  KindAnalysisFailed,
			want:  analyzer.FailedAnalysisMessage,
		},
		{
			name:  "analyzer panics",
			setup: func(h *harness) { h.a.panics = true },
			kind:  KindInternal,
			want:  msgInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			url := testURL
			if tt.url != "" {
				url = tt.url
			}
			sink := &recordingSink{}

			res := h.p.Run(context.Background(), Request{UserID: 1, URL: url}, sink)

			assert.False(t, res.OK())
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.want, res.Message)
			assert.Equal(t, tt.kind, KindOf(res.Err))
			for _, f := range sink.files {
				assert.False(t, strings.HasPrefix(f.name, "Analysis_"), "analysis file sent on failure")
			}
			assert.Empty(t, sink.texts)
			h.assertClean(t)
		})
	}
}

func TestAnalyzeContentBlankTextSkipsModel(t *testing.T) {
	h := newHarness(t)
	scope, err := NewScope(h.workDir)
	require.NoError(t, err)
	defer scope.Close()

	analysis, path, status := h.p.AnalyzeContent(context.Background(), scope, "", nil, ReportMeta{})

	assert.Equal(t, "", analysis)
	assert.Equal(t, "", path)
	assert.Equal(t, analyzer.StatusEmpty, status)
	assert.Equal(t, 0, h.a.calls)
	entries, _ := os.ReadDir(scope.Dir)
	assert.Empty(t, entries)
}

func TestAnalyzeContentWritesCRLFReport(t *testing.T) {
	h := newHarness(t)
	scope, err := NewScope(h.workDir)
	require.NoError(t, err)
	defer scope.Close()

	h.a.res = analyzer.Result{Text: "line one\nline two\r\nline three", Status: analyzer.StatusOK}
	analysis, path, status := h.p.AnalyzeContent(context.Background(), scope, "some words here", nil,
		ReportMeta{Title: "Pasta", URL: testURL})

	require.Equal(t, analyzer.StatusOK, status)
	assert.Equal(t, "line one\nline two\r\nline three", analysis)
	assert.Equal(t, filepath.Join(scope.Dir, "Analysis_20240102_030405.txt"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "Title:     Pasta\r\n")
	assert.Contains(t, text, "Source:    "+testURL+"\r\n")
	assert.Contains(t, text, "Generated: 2024-01-02 03:04:05\r\n")
	assert.Contains(t, text, "line one\r\nline two\r\nline three\r\n")
	assert.NotContains(t, strings.ReplaceAll(text, "\r\n", ""), "\n")

	require.NoError(t, scope.Close())
	assert.NoFileExists(t, path)
}

func TestAnalyzeContentNoFileWhenEmpty(t *testing.T) {
	h := newHarness(t)
	scope, err := NewScope(h.workDir)
	require.NoError(t, err)
	defer scope.Close()

	h.a.res = analyzer.Result{Text: analyzer.EmptyAnalysisMessage, Status: analyzer.StatusEmpty}
	analysis, path, status := h.p.AnalyzeContent(context.Background(), scope, "some words here", nil, ReportMeta{})

	assert.Equal(t, analyzer.EmptyAnalysisMessage, analysis)
	assert.Empty(t, path)
	assert.Equal(t, analyzer.StatusEmpty, status)
}

func TestRunSplitsLongAnalysis(t *testing.T) {
	h := newHarness(t)
	h.p.cfg.MaxMessageLength = 50
	h.a.res = analyzer.Result{Text: strings.Repeat("word ", 40), Status: analyzer.StatusOK}
	sink := &recordingSink{}

	res := h.run(t, sink)

	require.True(t, res.OK())
	require.Greater(t, len(sink.texts), 1)
	for _, c := range sink.texts {
		assert.LessOrEqual(t, len(c), 50)
	}
}

func TestRunCancelledContextStillCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.x.audioErr = context.Canceled

	res := h.p.Run(ctx, Request{UserID: 1, URL: testURL}, nil)

	assert.Equal(t, KindInternal, res.Kind)
	assert.Equal(t, msgCancelled, res.Message)
	h.assertClean(t)
}
