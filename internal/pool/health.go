package pool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

// Prober issues one cheap liveness call against a handle.
type Prober func(ctx context.Context, handle *rpcclient.Client) error

// HealthTracker drives the per-endpoint Healthy/Backoff/Unhealthy state machine.
type HealthTracker struct {
	registry *Registry
	settings Settings
	logger   Logger
	prober   Prober
	Clock    func() time.Time
}

// NewHealthTracker returns a tracker over registry. A nil prober calls the
// configured probe method with no params.
func NewHealthTracker(registry *Registry, settings Settings, logger Logger, prober Prober) *HealthTracker {
	settings = settings.WithDefaults()
	if prober == nil {
		method := settings.ProbeMethod
		prober = func(ctx context.Context, handle *rpcclient.Client) error {
			_, err := handle.Call(ctx, method, nil)
			return err
		}
	}
	return &HealthTracker{
		registry: registry,
		settings: settings,
		logger:   orNop(logger),
		prober:   prober,
	}
}

// RecordFailure charges one failed attempt of the given kind to endpoint i.
func (h *HealthTracker) RecordFailure(i int, kind ErrorKind) {
	cfg, st, ok := h.registry.entry(i)
	if !ok || kind == KindPoolExhausted {
		return
	}
	now := h.now()

	st.mu.Lock()
	if st.Failures < failureCap {
		st.Failures++
	}
	st.ErrorCounts.add(kind)

	var tripped bool
	var until time.Time
	switch {
	case kind == KindRateLimited:
		st.Healthy = false
		until = now.Add(h.rateLimitBackoff(cfg))
		st.extendBackoffLocked(until)
		tripped = true
	case st.Healthy && st.Failures >= h.settings.FailureThreshold:
		st.Healthy = false
		until = now.Add(h.thresholdBackoff(cfg, st.Failures))
		st.extendBackoffLocked(until)
		tripped = true
	}
	failures := st.Failures
	st.mu.Unlock()

	if tripped {
		h.logger.Warn("Endpoint marked unhealthy",
			zap.Int("index", i),
			zap.String("endpoint", cfg.Name),
			zap.String("kind", kind.String()),
			zap.Int("failures", failures),
			zap.Time("backoff_until", until))
	}
}

// RecordSuccess forgives the endpoint's failure history entirely.
func (h *HealthTracker) RecordSuccess(i int) {
	_, st, ok := h.registry.entry(i)
	if !ok {
		return
	}
	st.mu.Lock()
	st.Failures = 0
	st.Successes++
	st.BackoffUntil = nil
	st.Healthy = true
	st.mu.Unlock()
}

// MarkUnhealthy excludes endpoint i for at least d without counting a failure.
func (h *HealthTracker) MarkUnhealthy(i int, d time.Duration) {
	cfg, st, ok := h.registry.entry(i)
	if !ok {
		return
	}
	if d <= 0 {
		d = cfg.Cooldown
	}
	if d <= 0 {
		d = time.Millisecond
	}
	st.mu.Lock()
	st.Healthy = false
	st.extendBackoffLocked(h.now().Add(d))
	st.mu.Unlock()
}

// Probe issues one liveness call racing timeout. Success restores the endpoint;
// failure only returns false and never counts against it.
func (h *HealthTracker) Probe(ctx context.Context, i int, timeout time.Duration) bool {
	cfg, ok := h.registry.ConfigAt(i)
	handle := h.registry.HandleAt(i)
	if !ok || handle == nil {
		return false
	}
	if timeout <= 0 {
		timeout = h.settings.ProbeTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- h.prober(probeCtx, handle)
	}()

	var err error
	select {
	case err = <-done:
	case <-probeCtx.Done():
		err = fmt.Errorf("%w: probe after %s", ErrTimeout, timeout)
	}

	if err != nil {
		h.logger.Debug("Endpoint probe failed",
			zap.Int("index", i),
			zap.String("endpoint", cfg.Name),
			zap.Error(err))
		return false
	}

	h.RecordSuccess(i)
	h.logger.Debug("Endpoint probe succeeded",
		zap.Int("index", i),
		zap.String("endpoint", cfg.Name))
	return true
}

// rateLimitBackoff is 4*base + cooldown/4.
func (h *HealthTracker) rateLimitBackoff(cfg EndpointConfig) time.Duration {
	d := 4*cfg.BackoffBase + cfg.Cooldown/4
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// thresholdBackoff is min(cap, base*2^(failures-threshold)) + cooldown.
func (h *HealthTracker) thresholdBackoff(cfg EndpointConfig, failures int) time.Duration {
	exp := failures - h.settings.FailureThreshold
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}
	backoff := h.settings.BackoffCap
	if cfg.BackoffBase <= h.settings.BackoffCap>>uint(exp) {
		backoff = cfg.BackoffBase << uint(exp)
	}
	d := backoff + cfg.Cooldown
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (h *HealthTracker) now() time.Time {
	if h != nil && h.Clock != nil {
		return h.Clock()
	}
	return time.Now().UTC()
}
