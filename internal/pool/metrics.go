package pool

import "time"

// latencyAlpha is the EMA smoothing factor for latency samples.
const latencyAlpha = 0.2

// EndpointSnapshot is the read-only per-endpoint record exposed to loggers and
// dashboards.
type EndpointSnapshot struct {
	Index             int         `json:"index"`
	Name              string      `json:"name"`
	URL               string      `json:"url"`
	Healthy           bool        `json:"healthy"`
	Failures          int         `json:"failures"`
	Successes         int64       `json:"successes"`
	ProcessedCount    int64       `json:"processed_count"`
	CurrentConcurrent int         `json:"current_concurrent"`
	MaxConcurrent     int         `json:"max_concurrent"`
	AvgLatencyMs      *float64    `json:"avg_latency_ms"`
	BackoffUntil      *time.Time  `json:"backoff_until"`
	CooldownMs        int64       `json:"cooldown_ms"`
	ErrorCounts       ErrorCounts `json:"error_counts"`
}

// MetricsCollector records latency and throughput per endpoint.
type MetricsCollector struct {
	registry *Registry
}

func NewMetricsCollector(registry *Registry) *MetricsCollector {
	return &MetricsCollector{registry: registry}
}

// RecordLatency folds one sample into the endpoint's latency EMA. The first
// sample seeds the average.
func (m *MetricsCollector) RecordLatency(i int, d time.Duration) {
	st := m.registry.StateAt(i)
	if st == nil {
		return
	}
	sample := float64(d) / float64(time.Millisecond)
	if sample < 0 {
		sample = 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.AvgLatencyMs == nil {
		st.AvgLatencyMs = &sample
		return
	}
	avg := latencyAlpha*sample + (1-latencyAlpha)*(*st.AvgLatencyMs)
	st.AvgLatencyMs = &avg
}

// RecordProcessed adds n processed operations; n < 1 counts as one.
func (m *MetricsCollector) RecordProcessed(i int, n int64) {
	st := m.registry.StateAt(i)
	if st == nil {
		return
	}
	if n < 1 {
		n = 1
	}
	st.mu.Lock()
	st.ProcessedCount += n
	st.mu.Unlock()
}

// Snapshot returns one record per endpoint in index order.
func (m *MetricsCollector) Snapshot() []EndpointSnapshot {
	configs := m.registry.Configs()
	states := m.registry.States()

	out := make([]EndpointSnapshot, 0, len(configs))
	for i, cfg := range configs {
		if i >= len(states) {
			break
		}
		view := states[i].View()
		out = append(out, EndpointSnapshot{
			Index:             i,
			Name:              cfg.Name,
			URL:               cfg.URL,
			Healthy:           view.Healthy,
			Failures:          view.Failures,
			Successes:         view.Successes,
			ProcessedCount:    view.ProcessedCount,
			CurrentConcurrent: view.CurrentConcurrent,
			MaxConcurrent:     cfg.MaxConcurrent,
			AvgLatencyMs:      view.AvgLatencyMs,
			BackoffUntil:      view.BackoffUntil,
			CooldownMs:        cfg.Cooldown.Milliseconds(),
			ErrorCounts:       view.ErrorCounts,
		})
	}
	return out
}

// Reset zeroes the counters of endpoint i. Health, backoff and the in-flight
// count are live state and are left alone.
func (m *MetricsCollector) Reset(i int) bool {
	st := m.registry.StateAt(i)
	if st == nil {
		return false
	}
	st.mu.Lock()
	st.Failures = 0
	st.Successes = 0
	st.ProcessedCount = 0
	st.AvgLatencyMs = nil
	st.ErrorCounts = ErrorCounts{}
	st.mu.Unlock()
	return true
}
