package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func newTestExecutor(t *testing.T, p *Pool) (*Executor, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	e := NewExecutor(p, nil)
	e.Sleep = rec.Sleep
	return e, rec
}

func rateLimited() error {
	return &rpcclient.ProviderError{Endpoint: "x", StatusCode: 429, Message: "Too Many Requests"}
}

func TestExecuteSuccess(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(2)})
	e, rec := newTestExecutor(t, p)

	got, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return handle.Name, nil
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "ep0", got)
	assert.Empty(t, rec.Delays())

	view := p.registry.StateAt(0).View()
	assert.Equal(t, int64(1), view.Successes)
	assert.Equal(t, int64(1), view.ProcessedCount)
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.NotNil(t, view.AvgLatencyMs)
	assert.Equal(t, int64(1), e.Totals().Succeeded)
}

func TestExecuteRunsMaxRetriesPlusOneAttempts(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(2)})
	e, rec := newTestExecutor(t, p)
	cause := errors.New("connection reset")

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		calls.Add(1)
		return nil, cause
	}, Options{MaxRetries: 3})

	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.ErrorIs(t, err, cause)

	var aerr *AttemptError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 4, aerr.Attempts)
	assert.Equal(t, KindOther, aerr.Kind)
	assert.Equal(t, 1, aerr.Index)
	assert.Equal(t, "ep1", aerr.Endpoint)

	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond}, rec.Delays())
	assert.Equal(t, int64(4), e.Totals().Failed)
	for _, snap := range p.Snapshot() {
		assert.Equal(t, 0, snap.CurrentConcurrent)
	}
}

func TestExecuteRetryBudget(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		want int32
	}{
		{"zero retries", Options{}, 1},
		{"no retries", Options{MaxRetries: NoRetries}, 1},
		{"negative clamps", Options{MaxRetries: -5}, 1},
		{"explicit", Options{MaxRetries: 1}, 2},
		{"defaults", DefaultOptions(), DefaultMaxRetries + 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPool(t, Config{Source: testSpecs(1)})
			e, rec := newTestExecutor(t, p)

			var calls atomic.Int32
			_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
				calls.Add(1)
				return nil, errors.New("nope")
			}, tc.opts)

			require.Error(t, err)
			assert.Equal(t, tc.want, calls.Load())
			assert.Len(t, rec.Delays(), int(tc.want)-1)
		})
	}
}

func TestExecuteSucceedsOnLaterAttempt(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	var calls atomic.Int32
	got, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return 42, nil
	}, DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, 42, got)

	view := p.registry.StateAt(0).View()
	assert.True(t, view.Healthy)
	assert.Equal(t, 0, view.Failures)
	assert.Equal(t, int64(2), view.ErrorCounts.Other)
	assert.Equal(t, 0, view.CurrentConcurrent)
}

func TestExecuteRateLimitDelays(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(3)})
	e, rec := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return nil, rateLimited()
	}, Options{MaxRetries: 2, RateLimitBackoffBase: 2 * time.Second})

	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	var perr *rpcclient.ProviderError
	assert.ErrorAs(t, err, &perr)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.Delays())
	assert.Equal(t, 0, p.HealthyCount())
	assert.Equal(t, int64(3), e.Totals().RateLimited)
}

func TestExecuteMarksUnhealthyAtRateLimitThreshold(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, Config{Source: testSpecs(2), Clock: clock.Now})
	e, rec := newTestExecutor(t, p)

	got, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		if index == 0 {
			return nil, rateLimited()
		}
		return "ok", nil
	}, Options{MaxRetries: 1, MarkUnhealthyOn429Threshold: 1})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []time.Duration{DefaultRateLimitBackoffBase + unhealthyPause}, rec.Delays())

	view := p.registry.StateAt(0).View()
	assert.False(t, view.Healthy)
	require.NotNil(t, view.BackoffUntil)
	assert.Equal(t, clock.Now().Add(DefaultCooldown), *view.BackoffUntil)
}

func TestExecuteDataErrorKeepsEndpointInRotation(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return nil, &rpcclient.RPCError{Code: -32007, Message: "Slot 142900 was skipped, or missing due to ledger jump to recent snapshot"}
	}, Options{MaxRetries: NoRetries})

	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))

	view := p.registry.StateAt(0).View()
	assert.True(t, view.Healthy)
	assert.Nil(t, view.BackoffUntil)
	assert.Equal(t, int64(0), view.ErrorCounts.RateLimited)
	assert.Equal(t, int64(1), view.ErrorCounts.Other)
}

func TestExecuteHonorsRetryAfter(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, Config{Source: testSpecs(1), Clock: clock.Now})
	e, rec := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return nil, &rpcclient.ProviderError{Endpoint: handle.Name, StatusCode: 429, RetryAfter: 10 * time.Minute}
	}, Options{MaxRetries: 1})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{maxRateLimitDelay}, rec.Delays())

	view := p.registry.StateAt(0).View()
	assert.False(t, view.Healthy)
	require.NotNil(t, view.BackoffUntil)
	assert.Equal(t, clock.Now().Add(10*time.Minute), *view.BackoffUntil)
}

func TestExecuteShortRetryAfterKeepsComputedDelay(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, rec := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		return nil, &rpcclient.ProviderError{Endpoint: handle.Name, StatusCode: 429, RetryAfter: time.Millisecond}
	}, Options{MaxRetries: 1, RateLimitBackoffBase: 2 * time.Second})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays())
}

func TestExecuteExhaustedPool(t *testing.T) {
	p := newTestPool(t, Config{Source: StaticSource{}})
	e, rec := newTestExecutor(t, p)

	var events []AttemptEvent
	e.OnAttempt = func(ev AttemptEvent) { events = append(events, ev) }

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		t.Fatal("operation must not run on an empty pool")
		return nil, nil
	}, Options{MaxRetries: 2})

	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, KindPoolExhausted, KindOf(err))
	var aerr *AttemptError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 3, aerr.Attempts)
	assert.Equal(t, -1, aerr.Index)

	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, rec.Delays())
	require.Len(t, events, 3)
	assert.Equal(t, "pool_exhausted", events[0].Outcome())
	assert.Equal(t, int64(3), e.Totals().Exhausted)
}

func TestExecuteTimeout(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, rec := newTestExecutor(t, p)

	var cancelled atomic.Int32
	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		<-ctx.Done()
		cancelled.Add(1)
		return nil, ctx.Err()
	}, Options{Timeout: 20 * time.Millisecond, MaxRetries: 1})

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, rec.Delays())

	require.Eventually(t, func() bool { return cancelled.Load() == 2 }, time.Second, 5*time.Millisecond)
	view := p.registry.StateAt(0).View()
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.Equal(t, int64(2), view.ErrorCounts.Timeout)
}

func TestExecuteTimeoutThenRetrySucceeds(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, rec := newTestExecutor(t, p)

	var calls atomic.Int32
	got, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "second", nil
	}, Options{Timeout: 20 * time.Millisecond, MaxRetries: 1})

	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, rec.Delays())
}

func TestExecuteCallerCancelIsNotCharged(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, func(opCtx context.Context, handle *rpcclient.Client, index int) (any, error) {
			close(started)
			<-opCtx.Done()
			return nil, opCtx.Err()
		}, Options{Timeout: time.Minute})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	view := p.registry.StateAt(0).View()
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.Equal(t, 0, view.Failures)
	assert.Equal(t, int64(0), view.ErrorCounts.Total())
	assert.True(t, view.Healthy)
}

func TestExecuteTwoEndpointsSingleSlot(t *testing.T) {
	p := newTestPool(t, Config{Source: StaticSource{
		{Name: "a", URL: "http://a.invalid", MaxConcurrent: 1},
		{Name: "b", URL: "http://b.invalid", MaxConcurrent: 1},
	}})
	e, _ := newTestExecutor(t, p)

	release := make(chan struct{})
	started := make(chan int, 2)
	blocking := func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		started <- index
		select {
		case <-release:
			return index, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var wg sync.WaitGroup
	results := make([]any, 2)
	errs := make([]error, 2)
	for k := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[k], errs[k] = e.Execute(context.Background(), blocking, Options{Timeout: 5 * time.Second, MaxRetries: NoRetries})
		}()
	}

	first, second := <-started, <-started
	assert.NotEqual(t, first, second)

	_, err := e.Execute(context.Background(), blocking, Options{MaxRetries: NoRetries})
	assert.ErrorIs(t, err, ErrPoolExhausted)

	close(release)
	wg.Wait()

	for k := range 2 {
		require.NoError(t, errs[k])
	}
	assert.ElementsMatch(t, []any{0, 1}, results)
	for _, snap := range p.Snapshot() {
		assert.Equal(t, 0, snap.CurrentConcurrent)
		assert.Equal(t, int64(1), snap.ProcessedCount)
		assert.True(t, snap.Healthy)
	}
}

func TestExecuteRecoversOperationPanic(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		panic("kaboom")
	}, Options{MaxRetries: NoRetries})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, p.registry.StateAt(0).View().CurrentConcurrent)
}

func TestExecuteNilOperation(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	_, err := e.Execute(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExecuteOnAttemptEvents(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(2)})
	e, _ := newTestExecutor(t, p)

	var mu sync.Mutex
	var outcomes []string
	e.OnAttempt = func(ev AttemptEvent) {
		mu.Lock()
		outcomes = append(outcomes, ev.Outcome())
		mu.Unlock()
	}

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("quota exceeded for today")
		}
		return true, nil
	}, DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, []string{"quota_exceeded", "success"}, outcomes)
}

func TestExecuteLogsSummary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := newTestPool(t, Config{Source: testSpecs(2), Settings: Settings{LogEvery: 2}})
	e := NewExecutor(p, zap.New(core))

	for range 5 {
		_, err := e.Execute(context.Background(), func(ctx context.Context, handle *rpcclient.Client, index int) (any, error) {
			return nil, nil
		}, Options{})
		require.NoError(t, err)
	}

	summaries := logs.FilterMessage("Pool progress").All()
	require.Len(t, summaries, 2)
	fields := summaries[1].ContextMap()
	assert.Equal(t, int64(4), fields["processed"])
	assert.Equal(t, int64(2), fields["size"])
}

func TestDoTyped(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})
	e, _ := newTestExecutor(t, p)

	n, err := Do(context.Background(), e, Options{}, func(ctx context.Context, handle *rpcclient.Client, index int) (uint64, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	_, err = Do(context.Background(), e, Options{MaxRetries: NoRetries}, func(ctx context.Context, handle *rpcclient.Client, index int) (uint64, error) {
		return 0, errors.New("broken")
	})
	assert.Error(t, err)
}

func TestDelayHelpers(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 800*time.Millisecond, retryDelay(3))
	assert.Equal(t, time.Second, retryDelay(10))

	assert.Equal(t, time.Second, rateLimitDelay(time.Second, 0))
	assert.Equal(t, 5*time.Second, rateLimitDelay(3*time.Second, 1))
}
