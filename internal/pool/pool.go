// Package pool distributes read-only JSON-RPC calls across many unreliable
// upstream endpoints serving the same API.
//
// A Pool is the composition root: it owns the endpoint Registry and the
// HealthTracker, Limiter, MetricsCollector and Selector that act on it, and
// exposes a narrow facade. Executor builds retrying, timeout-enforcing calls on
// top of that facade. Construct one Pool per process and pass it by reference.
package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxParallelProbes bounds concurrent liveness calls during a probe sweep.
const maxParallelProbes = 8

// Config wires a Pool. Only Source is normally required.
type Config struct {
	Source        Source
	Settings      Settings
	Logger        Logger
	Clock         func() time.Time
	HandleFactory HandleFactory
	Prober        Prober
}

// Pool is the composition root over the pool components.
type Pool struct {
	registry *Registry
	health   *HealthTracker
	limiter  *Limiter
	metrics  *MetricsCollector
	selector *Selector

	settings Settings
	logger   Logger
	clock    func() time.Time
}

// Outcome reports how an acquired slot was used.
type Outcome struct {
	Latency time.Duration
	Err     error
	Kind    ErrorKind
	// Abandoned releases the slot without charging the endpoint, for calls
	// cancelled by the caller rather than failed by the upstream.
	Abandoned bool
}

// ProbeResult is the outcome of probing one endpoint.
type ProbeResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
}

// New builds the components and loads the registry.
func New(cfg Config) *Pool {
	settings := cfg.Settings.WithDefaults()
	logger := orNop(cfg.Logger)

	registry := NewRegistry(cfg.Source, settings, logger, cfg.HandleFactory)
	health := NewHealthTracker(registry, settings, logger, cfg.Prober)
	limiter := NewLimiter(registry)
	selector := NewSelector(registry)
	health.Clock = cfg.Clock
	limiter.Clock = cfg.Clock
	selector.Clock = cfg.Clock

	p := &Pool{
		registry: registry,
		health:   health,
		limiter:  limiter,
		metrics:  NewMetricsCollector(registry),
		selector: selector,
		settings: settings,
		logger:   logger,
		clock:    cfg.Clock,
	}
	registry.Load()
	return p
}

// Pick returns the next eligible endpoint in round-robin order.
func (p *Pool) Pick() (Selection, bool) {
	return p.selector.Next()
}

// TryAcquire takes a concurrency slot on endpoint i.
func (p *Pool) TryAcquire(i int) bool {
	return p.limiter.Acquire(i)
}

// ReleaseWithOutcome returns the slot on endpoint i and feeds the outcome into
// health and metrics. Every successful TryAcquire must be paired with exactly
// one call.
func (p *Pool) ReleaseWithOutcome(i int, out Outcome) {
	switch {
	case out.Abandoned:
		p.limiter.Release(i)
	case out.Err == nil:
		p.metrics.RecordLatency(i, out.Latency)
		p.health.RecordSuccess(i)
		p.metrics.RecordProcessed(i, 1)
		p.limiter.Release(i)
	default:
		p.limiter.Release(i)
		p.health.RecordFailure(i, out.Kind)
	}
}

// Probe issues one liveness call against endpoint i.
func (p *Pool) Probe(ctx context.Context, i int, timeout time.Duration) bool {
	return p.health.Probe(ctx, i, timeout)
}

// ProbeAll probes every endpoint accepted by filter (all when nil) with bounded
// parallelism and returns the results in index order.
func (p *Pool) ProbeAll(ctx context.Context, timeout time.Duration, filter func(EndpointSnapshot) bool) []ProbeResult {
	snaps := p.metrics.Snapshot()
	results := make([]ProbeResult, 0, len(snaps))
	for _, snap := range snaps {
		if filter != nil && !filter(snap) {
			continue
		}
		results = append(results, ProbeResult{Index: snap.Index, Name: snap.Name})
	}

	var g errgroup.Group
	g.SetLimit(maxParallelProbes)
	for k := range results {
		res := &results[k]
		g.Go(func() error {
			start := time.Now()
			res.OK = p.health.Probe(ctx, res.Index, timeout)
			res.Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RecoverOnce probes unhealthy endpoints whose backoff window has elapsed and
// returns how many were restored.
func (p *Pool) RecoverOnce(ctx context.Context) int {
	now := p.now()
	results := p.ProbeAll(ctx, p.settings.ProbeTimeout, func(s EndpointSnapshot) bool {
		if s.Healthy {
			return false
		}
		return s.BackoffUntil == nil || !now.Before(*s.BackoffUntil)
	})

	restored := 0
	for _, res := range results {
		if res.OK {
			restored++
			p.logger.Info("Endpoint restored by probe",
				zap.Int("index", res.Index),
				zap.String("endpoint", res.Name))
		}
	}
	return restored
}

// RunRecovery runs RecoverOnce every interval until ctx is done.
func (p *Pool) RunRecovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.settings.RecoveryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RecoverOnce(ctx)
		}
	}
}

// MarkUnhealthy excludes endpoint i for at least d.
func (p *Pool) MarkUnhealthy(i int, d time.Duration) {
	p.health.MarkUnhealthy(i, d)
}

// RateLimitedCount returns endpoint i's cumulative rate-limited failures.
func (p *Pool) RateLimitedCount(i int) int64 {
	st := p.registry.StateAt(i)
	if st == nil {
		return 0
	}
	return st.View().ErrorCounts.RateLimited
}

// Snapshot returns the per-endpoint metrics records.
func (p *Pool) Snapshot() []EndpointSnapshot {
	return p.metrics.Snapshot()
}

// ResetMetrics zeroes endpoint i's counters.
func (p *Pool) ResetMetrics(i int) bool {
	return p.metrics.Reset(i)
}

// Size returns the number of loaded endpoints.
func (p *Pool) Size() int {
	return p.registry.Size()
}

// HealthyCount returns how many endpoints are currently marked healthy.
func (p *Pool) HealthyCount() int {
	n := 0
	for _, st := range p.registry.States() {
		if st.View().Healthy {
			n++
		}
	}
	return n
}

// EndpointName returns the label of endpoint i, or "" when out of range.
func (p *Pool) EndpointName(i int) string {
	cfg, _ := p.registry.ConfigAt(i)
	return cfg.Name
}

// Endpoint returns the resolved config of endpoint i.
func (p *Pool) Endpoint(i int) (EndpointConfig, bool) {
	return p.registry.ConfigAt(i)
}

// Settings returns the effective tunables.
func (p *Pool) Settings() Settings {
	return p.settings
}

func (p *Pool) now() time.Time {
	if p != nil && p.clock != nil {
		return p.clock()
	}
	return time.Now().UTC()
}
