// Package extractor fetches subtitles, audio and metadata for a video URL by
// driving yt-dlp.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ErrNoMedia means nothing usable could be downloaded.
var ErrNoMedia = errors.New("no downloadable media")

// DurationError reports a video longer than the configured ceiling.
type DurationError struct {
	Minutes float64
	Limit   int
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("video is too long (%.1f min). Maximum duration: %d min", e.Minutes, e.Limit)
}

// FileSizeError reports a downloaded file over the size limit.
type FileSizeError struct {
	SizeMB  float64
	LimitMB int
}

func (e *FileSizeError) Error() string {
	return fmt.Sprintf("file is too large (%.1f MB). Maximum size: %d MB", e.SizeMB, e.LimitMB)
}

// Config configures an Extractor.
type Config struct {
	MaxFileSizeMB      int
	MaxDurationMinutes int
}

// Extractor wraps the extraction tool.
type Extractor struct {
	runner Runner
	cfg    Config
	log    logrus.FieldLogger
}

// New creates an Extractor.
func New(runner Runner, cfg Config, log logrus.FieldLogger) *Extractor {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = 10
	}
	return &Extractor{runner: runner, cfg: cfg, log: log.WithField("component", "extractor")}
}

func baseArgs() []string {
	return []string{
		"--no-playlist",
		"--no-warnings",
		"--socket-timeout", "30",
		"--retries", "3",
		"--user-agent", userAgent,
	}
}

// Probe fetches metadata only.
func (x *Extractor) Probe(ctx context.Context, url string) (*Info, error) {
	args := append(baseArgs(), "--dump-single-json", "--skip-download", url)
	out, err := x.runner.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	info, err := ParseInfo(out)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	x.log.WithFields(logrus.Fields{
		"id":        info.ID,
		"extractor": info.Extractor,
		"duration":  info.Duration,
		"subtitles": len(info.Subtitles),
		"auto":      len(info.AutoCaptions),
	}).Debug("probed")
	return info, nil
}

// CheckDuration returns a *DurationError when info exceeds the ceiling.
// Unknown durations pass.
func (x *Extractor) CheckDuration(info *Info) error {
	minutes := info.Duration / 60
	if minutes > float64(x.cfg.MaxDurationMinutes) {
		return &DurationError{Minutes: minutes, Limit: x.cfg.MaxDurationMinutes}
	}
	return nil
}

// Subtitles downloads the preferred subtitle track into dir. When no track is
// offered it forces an automatic-caption download. Failures are logged and
// reported as ok=false.
func (x *Extractor) Subtitles(ctx context.Context, info *Info, url, dir string) (string, bool) {
	log := x.log.WithField("url", url)
	template := filepath.Join(dir, "subs.%(ext)s")

	args := append(baseArgs(), "--skip-download", "-o", template)
	if t, ok := PickTrack(info); ok {
		log = log.WithFields(logrus.Fields{"lang": t.Lang, "auto": t.Auto})
		if t.Auto {
			args = append(args, "--write-auto-subs")
		} else {
			args = append(args, "--write-subs")
		}
		args = append(args, "--sub-langs", t.Lang, "--sub-format", t.Ext+"/best")
	} else {
		log.Debug("no subtitle tracks listed, forcing automatic captions")
		args = append(args, "--write-subs", "--write-auto-subs", "--sub-langs", "en.*,.*-orig", "--sub-format", "vtt/srt/best")
	}
	args = append(args, url)

	if _, err := x.runner.Run(ctx, args...); err != nil {
		log.WithError(err).Warn("subtitle download failed")
		return "", false
	}

	path := findFile(dir, "subs.", func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		return ext == ".vtt" || ext == ".srt"
	})
	if path == "" {
		log.Info("no subtitle file produced")
		return "", false
	}
	log.WithField("file", filepath.Base(path)).Info("subtitles downloaded")
	return path, true
}

// Audio downloads the media for transcription into dir. TikTok is fetched as
// mp4; other sources as best audio converted to mp3, retried once with the
// plain "best" format. A file over the size limit is removed and reported as
// *FileSizeError.
func (x *Extractor) Audio(ctx context.Context, url, dir string) (string, error) {
	log := x.log.WithField("url", url)
	template := filepath.Join(dir, "audio.%(ext)s")

	var primary []string
	if IsTikTok(url) {
		primary = []string{"-f", "mp4"}
	} else {
		primary = []string{"-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "192K"}
	}

	attempts := [][]string{primary, {"-f", "best"}}
	for i, format := range attempts {
		args := append(baseArgs(), "-o", template)
		args = append(args, format...)
		args = append(args, url)

		if _, err := x.runner.Run(ctx, args...); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.WithError(err).WithField("attempt", i+1).Warn("media download failed")
			continue
		}

		path := findFile(dir, "audio.", func(name string) bool {
			return !strings.HasSuffix(name, ".part") && !strings.HasSuffix(name, ".ytdl")
		})
		if path == "" {
			log.WithField("attempt", i+1).Warn("download produced no file")
			continue
		}
		if err := x.checkSize(path); err != nil {
			os.Remove(path)
			return "", err
		}
		log.WithField("file", filepath.Base(path)).Info("media downloaded")
		return path, nil
	}
	return "", ErrNoMedia
}

func (x *Extractor) checkSize(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}
	sizeMB := float64(st.Size()) / (1024 * 1024)
	if sizeMB > float64(x.cfg.MaxFileSizeMB) {
		return &FileSizeError{SizeMB: sizeMB, LimitMB: x.cfg.MaxFileSizeMB}
	}
	return nil
}

// findFile returns the first regular file in dir whose name starts with
// prefix and satisfies keep, in name order.
func findFile(dir, prefix string, keep func(name string) bool) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), prefix) && keep(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}
