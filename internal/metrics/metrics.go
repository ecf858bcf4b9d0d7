// Package metrics holds the prometheus collectors for clip-memory.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors recorded by the service.
type Metrics struct {
	Registry *prometheus.Registry

	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	RateLimitRejects  *prometheus.CounterVec
	AnalyzerAttempts  *prometheus.CounterVec
	MemoryAdded       prometheus.Counter
	MemoryDedupSkips  prometheus.Counter
	EmbeddingFailures prometheus.Counter
	SearchFallbacks   prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmemory_pipeline_runs_total",
			Help: "Pipeline runs by terminal error kind (none on success).",
		}, []string{"kind"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipmemory_pipeline_duration_seconds",
			Help:    "Wall time of pipeline runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmemory_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"window"}),
		AnalyzerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmemory_analyzer_attempts_total",
			Help: "Language model calls made by the analyzer.",
		}, []string{"outcome"}),
		MemoryAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmemory_memory_entries_added_total",
			Help: "Entries written to memory.",
		}),
		MemoryDedupSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmemory_memory_dedup_skips_total",
			Help: "Adds skipped because the content was already stored.",
		}),
		EmbeddingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmemory_embedding_failures_total",
			Help: "Embedding calls that failed.",
		}),
		SearchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmemory_search_fallbacks_total",
			Help: "Searches answered by keyword matching.",
		}),
	}
	m.Registry.MustRegister(
		m.PipelineRuns,
		m.PipelineDuration,
		m.RateLimitRejects,
		m.AnalyzerAttempts,
		m.MemoryAdded,
		m.MemoryDedupSkips,
		m.EmbeddingFailures,
		m.SearchFallbacks,
	)
	return m
}

// The recording helpers below accept a nil receiver so components can run
// without metrics in tests.

func (m *Metrics) ObserveRun(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(kind).Inc()
	m.PipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) RateLimited(window string) {
	if m == nil {
		return
	}
	m.RateLimitRejects.WithLabelValues(window).Inc()
}

func (m *Metrics) AnalyzerAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AnalyzerAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EntryAdded() {
	if m == nil {
		return
	}
	m.MemoryAdded.Inc()
}

func (m *Metrics) DedupSkipped() {
	if m == nil {
		return
	}
	m.MemoryDedupSkips.Inc()
}

func (m *Metrics) EmbeddingFailed() {
	if m == nil {
		return
	}
	m.EmbeddingFailures.Inc()
}

func (m *Metrics) SearchFellBack() {
	if m == nil {
		return
	}
	m.SearchFallbacks.Inc()
}
