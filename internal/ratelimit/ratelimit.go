// Package ratelimit implements a per-user sliding-window request limiter.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Window identifies which limit rejected a request.
type Window string

const (
	WindowNone   Window = ""
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

// Config configures a Limiter.
type Config struct {
	PerMinute int
	PerHour   int
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Stats is a snapshot of a user's current window usage.
type Stats struct {
	MinuteCount int `json:"minute_count"`
	HourCount   int `json:"hour_count"`
	MinuteLimit int `json:"minute_limit"`
	HourLimit   int `json:"hour_limit"`
}

type userWindow struct {
	mu    sync.Mutex
	times []time.Time
}

// Limiter admits at most PerMinute requests per 60s and PerHour per 3600s
// for each user. State lives in process memory only.
type Limiter struct {
	cfg   Config
	users sync.Map // int64 -> *userWindow
}

// New creates a Limiter. Zero limits fall back to 5/min and 20/hour.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 5
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{cfg: cfg}
}

func (l *Limiter) window(userID int64) *userWindow {
	w, _ := l.users.LoadOrStore(userID, &userWindow{})
	return w.(*userWindow)
}

// Check reports whether the user may make a request now. Allowed requests
// are recorded; rejected ones are not.
func (l *Limiter) Check(userID int64) (bool, string) {
	ok, _, reason := l.CheckWindow(userID)
	return ok, reason
}

// CheckWindow is Check that also reports which window rejected the request.
func (l *Limiter) CheckWindow(userID int64) (bool, Window, string) {
	w := l.window(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.cfg.Now()
	w.prune(now)

	if w.countSince(now.Add(-minuteWindow)) >= l.cfg.PerMinute {
		return false, WindowMinute, fmt.Sprintf("minute limit exceeded (%d requests). Try again in a minute.", l.cfg.PerMinute)
	}
	if len(w.times) >= l.cfg.PerHour {
		return false, WindowHour, fmt.Sprintf("hourly limit exceeded (%d requests). Try again later.", l.cfg.PerHour)
	}

	w.times = append(w.times, now)
	return true, WindowNone, ""
}

// Stats returns the user's current counts without recording anything.
func (l *Limiter) Stats(userID int64) Stats {
	w := l.window(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.cfg.Now()
	w.prune(now)
	return Stats{
		MinuteCount: w.countSince(now.Add(-minuteWindow)),
		HourCount:   len(w.times),
		MinuteLimit: l.cfg.PerMinute,
		HourLimit:   l.cfg.PerHour,
	}
}

// prune drops timestamps at or beyond the hour window. Times are appended
// in order, so the expired ones form a prefix.
func (w *userWindow) prune(now time.Time) {
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

func (w *userWindow) countSince(cutoff time.Time) int {
	n := 0
	for j := len(w.times) - 1; j >= 0 && w.times[j].After(cutoff); j-- {
		n++
	}
	return n
}
