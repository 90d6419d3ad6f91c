package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

// Executor defaults.
const (
	DefaultTimeout              = 15 * time.Second
	DefaultMaxRetries           = 3
	DefaultRateLimitBackoffBase = time.Second

	// NoRetries disables retrying when set as Options.MaxRetries.
	NoRetries = 0

	maxRateLimitDelay = 5 * time.Second
	maxRetryDelay     = time.Second
	retryDelayStep    = 200 * time.Millisecond
	unhealthyPause    = 250 * time.Millisecond
)

// Operation is one remote call against a selected endpoint handle.
type Operation func(ctx context.Context, handle *rpcclient.Client, index int) (any, error)

// Options tune a single Execute call. A zero Timeout or RateLimitBackoffBase
// takes the default; MaxRetries is used as given, so start from DefaultOptions
// for the default retry budget.
type Options struct {
	Timeout              time.Duration
	MaxRetries           int
	RateLimitBackoffBase time.Duration
	// MarkUnhealthyOn429Threshold, when positive, pre-emptively excludes an
	// endpoint once its cumulative rate-limited count reaches the threshold.
	MarkUnhealthyOn429Threshold int64
}

// DefaultOptions returns the executor defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:              DefaultTimeout,
		MaxRetries:           DefaultMaxRetries,
		RateLimitBackoffBase: DefaultRateLimitBackoffBase,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = NoRetries
	}
	if o.RateLimitBackoffBase <= 0 {
		o.RateLimitBackoffBase = DefaultRateLimitBackoffBase
	}
	if o.MarkUnhealthyOn429Threshold < 0 {
		o.MarkUnhealthyOn429Threshold = 0
	}
	return o
}

// AttemptEvent describes one finished attempt. Kind is meaningless when Err is
// nil.
type AttemptEvent struct {
	Attempt  int
	Index    int
	Endpoint string
	Latency  time.Duration
	Kind     ErrorKind
	Err      error
}

// Outcome returns "success" or the error class of the attempt.
func (e AttemptEvent) Outcome() string {
	if e.Err == nil {
		return "success"
	}
	return e.Kind.String()
}

// Totals are the executor's cumulative counters.
type Totals struct {
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	RateLimited   int64 `json:"rate_limited"`
	QuotaExceeded int64 `json:"quota_exceeded"`
	Timeout       int64 `json:"timeout"`
	Other         int64 `json:"other"`
	Exhausted     int64 `json:"exhausted"`
}

// Executor runs operations against the pool with selection, slot accounting,
// a per-attempt timeout, outcome feedback and bounded retry.
type Executor struct {
	pool     *Pool
	logger   Logger
	logEvery int64
	started  time.Time

	// OnAttempt, when set, is called after every attempt that reached an
	// endpoint and after every exhausted selection.
	OnAttempt func(AttemptEvent)

	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	succeeded     atomic.Int64
	failed        atomic.Int64
	rateLimited   atomic.Int64
	quotaExceeded atomic.Int64
	timedOut      atomic.Int64
	other         atomic.Int64
	exhausted     atomic.Int64
}

// NewExecutor returns an executor over p. A nil logger falls back to the
// pool's logger.
func NewExecutor(p *Pool, logger Logger) *Executor {
	if logger == nil {
		logger = p.logger
	}
	return &Executor{
		pool:     p,
		logger:   orNop(logger),
		logEvery: int64(p.Settings().LogEvery),
		started:  time.Now(),
		Sleep:    sleepContext,
	}
}

// Execute runs op on the next eligible endpoint, retrying up to
// opts.MaxRetries times. Only the final attempt's failure is returned, as an
// *AttemptError. Cancellation of ctx returns ctx.Err() and is never charged to
// an endpoint.
func (e *Executor) Execute(ctx context.Context, op Operation, opts Options) (any, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrConfiguration)
	}
	opts = opts.withDefaults()
	attempts := opts.MaxRetries + 1

	var lastErr *AttemptError
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := attempt == attempts-1

		sel, ok := e.pool.Pick()
		if !ok || !e.pool.TryAcquire(sel.Index) {
			e.exhausted.Add(1)
			e.failed.Add(1)
			e.notify(AttemptEvent{Attempt: attempt, Index: -1, Kind: KindPoolExhausted, Err: ErrPoolExhausted})
			lastErr = &AttemptError{Attempts: attempt + 1, Index: -1, Kind: KindPoolExhausted, Err: ErrPoolExhausted}
			if last {
				break
			}
			if err := e.sleep(ctx, retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		name := e.pool.EndpointName(sel.Index)
		start := time.Now()
		value, abandoned, err := e.run(ctx, op, sel, opts.Timeout)
		latency := time.Since(start)

		if abandoned {
			e.pool.ReleaseWithOutcome(sel.Index, Outcome{Abandoned: true})
			return nil, ctx.Err()
		}

		if err == nil {
			e.pool.ReleaseWithOutcome(sel.Index, Outcome{Latency: latency})
			e.notify(AttemptEvent{Attempt: attempt, Index: sel.Index, Endpoint: name, Latency: latency})
			e.recordSuccess()
			return value, nil
		}

		kind := Classify(err)
		e.pool.ReleaseWithOutcome(sel.Index, Outcome{Latency: latency, Err: err, Kind: kind})
		e.recordFailure(kind)
		e.notify(AttemptEvent{Attempt: attempt, Index: sel.Index, Endpoint: name, Latency: latency, Kind: kind, Err: err})
		lastErr = &AttemptError{Attempts: attempt + 1, Index: sel.Index, Endpoint: name, Kind: kind, Err: err}

		e.logger.Debug("Attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("index", sel.Index),
			zap.String("endpoint", name),
			zap.String("kind", kind.String()),
			zap.Duration("latency", latency),
			zap.Error(err))

		hint := RetryAfter(err)
		if kind == KindRateLimited && hint > 0 {
			e.pool.MarkUnhealthy(sel.Index, hint)
		}
		if last {
			break
		}

		delay := retryDelay(attempt)
		if kind == KindRateLimited {
			delay = rateLimitDelay(opts.RateLimitBackoffBase, attempt)
			delay = max(delay, min(hint, maxRateLimitDelay))
			if opts.MarkUnhealthyOn429Threshold > 0 &&
				e.pool.RateLimitedCount(sel.Index) >= opts.MarkUnhealthyOn429Threshold {
				e.pool.MarkUnhealthy(sel.Index, 0)
				delay += unhealthyPause
				e.logger.Warn("Endpoint excluded after repeated rate limiting",
					zap.Int("index", sel.Index),
					zap.String("endpoint", name),
					zap.Int64("threshold", opts.MarkUnhealthyOn429Threshold))
			}
		}
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// run races op against timeout and cancels the op context on return.
// abandoned is true when ctx itself ended the attempt.
func (e *Executor) run(ctx context.Context, op Operation, sel Selection, timeout time.Duration) (value any, abandoned bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(attemptCtx, sel.Handle, sel.Index)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return nil, true, nil
		}
		return r.value, false, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// Totals returns a copy of the cumulative counters.
func (e *Executor) Totals() Totals {
	return Totals{
		Succeeded:     e.succeeded.Load(),
		Failed:        e.failed.Load(),
		RateLimited:   e.rateLimited.Load(),
		QuotaExceeded: e.quotaExceeded.Load(),
		Timeout:       e.timedOut.Load(),
		Other:         e.other.Load(),
		Exhausted:     e.exhausted.Load(),
	}
}

func (e *Executor) recordSuccess() {
	n := e.succeeded.Add(1)
	if e.logEvery > 0 && n%e.logEvery == 0 {
		e.logSummary(n)
	}
}

func (e *Executor) recordFailure(kind ErrorKind) {
	e.failed.Add(1)
	switch kind {
	case KindRateLimited:
		e.rateLimited.Add(1)
	case KindQuotaExceeded:
		e.quotaExceeded.Add(1)
	case KindTimeout:
		e.timedOut.Add(1)
	default:
		e.other.Add(1)
	}
}

func (e *Executor) logSummary(processed int64) {
	totals := e.Totals()
	elapsed := time.Since(e.started).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(processed) / elapsed
	}

	perEndpoint := make(map[string]int64, e.pool.Size())
	for _, snap := range e.pool.Snapshot() {
		perEndpoint[snap.Name] = snap.ProcessedCount
	}

	e.logger.Info("Pool progress",
		zap.Int64("processed", processed),
		zap.Float64("throughput_per_sec", throughput),
		zap.Int64("succeeded", totals.Succeeded),
		zap.Int64("failed", totals.Failed),
		zap.Int64("rate_limited", totals.RateLimited),
		zap.Int64("quota_exceeded", totals.QuotaExceeded),
		zap.Int64("timeout", totals.Timeout),
		zap.Int64("other", totals.Other),
		zap.Int64("exhausted", totals.Exhausted),
		zap.Int("healthy", e.pool.HealthyCount()),
		zap.Int("size", e.pool.Size()),
		zap.Any("per_endpoint", perEndpoint))
}

func (e *Executor) notify(ev AttemptEvent) {
	if e.OnAttempt != nil {
		e.OnAttempt(ev)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep == nil {
		return sleepContext(ctx, d)
	}
	return e.Sleep(ctx, d)
}

// Do runs op through e and asserts the result type.
func Do[T any](ctx context.Context, e *Executor, opts Options, op func(ctx context.Context, handle *rpcclient.Client, index int) (T, error)) (T, error) {
	var zero T
	value, err := e.Execute(ctx, func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return op(ctx, handle, index)
	}, opts)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("relaypool: unexpected result type %T", value)
	}
	return typed, nil
}

// retryDelay is min(1s, (attempt+1)*200ms).
func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt+1) * retryDelayStep
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// rateLimitDelay is min(5s, base*(attempt+1)).
func rateLimitDelay(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt+1)
	if d > maxRateLimitDelay || d <= 0 {
		d = maxRateLimitDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
