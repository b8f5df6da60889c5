package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// MetricsSink aggregates run outcomes from terminal events.
type MetricsSink struct {
	events    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu             sync.RWMutex
	failuresByKind map[string]int64
	totalDuration  time.Duration
	bands          map[string]int64
}

// NewMetricsSink creates a metrics sink
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{
		failuresByKind: make(map[string]int64),
		bands:          make(map[string]int64),
	}
}

func (m *MetricsSink) Name() string { return "metrics" }

func (m *MetricsSink) Publish(_ context.Context, event Event) error {
	m.events.Inc()
	if !event.Terminal {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := event.Details["duration_ms"]; ok && d.Kind() == KindInt {
		m.totalDuration += time.Duration(d.i) * time.Millisecond
	}
	if kind := event.Details["error_kind"].String(); kind != "" {
		m.failed.Inc()
		m.failuresByKind[kind]++
		return nil
	}
	m.completed.Inc()
	if band := event.Details["verdict_band"].String(); band != "" {
		m.bands[band]++
	}
	return nil
}

// GetMetrics returns current metrics
func (m *MetricsSink) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	completed, failed := m.completed.Load(), m.failed.Load()
	avg := time.Duration(0)
	if runs := completed + failed; runs > 0 {
		avg = m.totalDuration / time.Duration(runs)
	}

	failures := make(map[string]int64, len(m.failuresByKind))
	for k, v := range m.failuresByKind {
		failures[k] = v
	}
	bands := make(map[string]int64, len(m.bands))
	for k, v := range m.bands {
		bands[k] = v
	}

	return map[string]interface{}{
		"events_published":   m.events.Load(),
		"runs_completed":     completed,
		"runs_failed":        failed,
		"failures_by_kind":   failures,
		"verdict_bands":      bands,
		"avg_run_duration_ms": avg.Milliseconds(),
	}
}
