package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSpecs(n int) StaticSource {
	specs := make(StaticSource, n)
	for i := range specs {
		specs[i] = EndpointSpec{
			Name: fmt.Sprintf("ep%d", i),
			URL:  fmt.Sprintf("http://ep%d.invalid", i),
		}
	}
	return specs
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg)
	require.NotNil(t, p)
	return p
}

func TestPoolLoadsAndExposesFacade(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, Config{Source: testSpecs(3), Clock: clock.Now})

	assert.Equal(t, 3, p.Size())
	assert.Equal(t, 3, p.HealthyCount())
	assert.Equal(t, "ep1", p.EndpointName(1))
	assert.Equal(t, "", p.EndpointName(7))
	assert.Equal(t, DefaultSettings(), p.Settings())

	cfg, ok := p.Endpoint(2)
	require.True(t, ok)
	assert.Equal(t, "http://ep2.invalid", cfg.URL)
}

func TestReleaseWithOutcomeSuccess(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})

	require.True(t, p.TryAcquire(0))
	p.ReleaseWithOutcome(0, Outcome{Latency: 40 * time.Millisecond})

	view := p.registry.StateAt(0).View()
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.Equal(t, int64(1), view.Successes)
	assert.Equal(t, int64(1), view.ProcessedCount)
	require.NotNil(t, view.AvgLatencyMs)
	assert.InDelta(t, 40.0, *view.AvgLatencyMs, 0.001)
}

func TestReleaseWithOutcomeFailure(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})

	require.True(t, p.TryAcquire(0))
	p.ReleaseWithOutcome(0, Outcome{Err: errors.New("boom"), Kind: KindOther})

	view := p.registry.StateAt(0).View()
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.Equal(t, 1, view.Failures)
	assert.Equal(t, int64(1), view.ErrorCounts.Other)
	assert.Equal(t, int64(0), view.ProcessedCount)
}

func TestReleaseWithOutcomeAbandonedChargesNothing(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(1)})

	require.True(t, p.TryAcquire(0))
	p.ReleaseWithOutcome(0, Outcome{Abandoned: true, Err: context.Canceled})

	view := p.registry.StateAt(0).View()
	assert.Equal(t, 0, view.CurrentConcurrent)
	assert.Equal(t, 0, view.Failures)
	assert.Equal(t, int64(0), view.Successes)
	assert.True(t, view.Healthy)
}

func TestRateLimitedCount(t *testing.T) {
	p := newTestPool(t, Config{Source: testSpecs(2)})

	p.health.RecordFailure(1, KindRateLimited)
	p.health.RecordFailure(1, KindRateLimited)

	assert.Equal(t, int64(0), p.RateLimitedCount(0))
	assert.Equal(t, int64(2), p.RateLimitedCount(1))
	assert.Equal(t, int64(0), p.RateLimitedCount(9))
}

func TestProbeAllFiltersAndOrders(t *testing.T) {
	var calls atomic.Int32
	prober := func(ctx context.Context, handle *rpcclient.Client) error {
		calls.Add(1)
		if handle.Name == "ep1" {
			return errors.New("down")
		}
		return nil
	}
	p := newTestPool(t, Config{Source: testSpecs(4), Prober: prober})

	all := p.ProbeAll(context.Background(), time.Second, nil)
	require.Len(t, all, 4)
	for i, res := range all {
		assert.Equal(t, i, res.Index)
	}
	assert.True(t, all[0].OK)
	assert.False(t, all[1].OK)
	assert.Equal(t, int32(4), calls.Load())

	some := p.ProbeAll(context.Background(), time.Second, func(s EndpointSnapshot) bool {
		return s.Index%2 == 0
	})
	require.Len(t, some, 2)
	assert.Equal(t, 0, some[0].Index)
	assert.Equal(t, 2, some[1].Index)
}

func TestRecoverOnceRestoresElapsedEndpoints(t *testing.T) {
	clock := newFakeClock()
	p := newTestPool(t, Config{
		Source: testSpecs(3),
		Clock:  clock.Now,
		Prober: func(ctx context.Context, handle *rpcclient.Client) error { return nil },
	})

	p.MarkUnhealthy(0, time.Second)
	p.MarkUnhealthy(1, time.Minute)
	require.Equal(t, 1, p.HealthyCount())

	clock.Advance(2 * time.Second)
	restored := p.RecoverOnce(context.Background())

	assert.Equal(t, 1, restored)
	assert.True(t, p.registry.StateAt(0).View().Healthy)
	assert.False(t, p.registry.StateAt(1).View().Healthy)
	assert.Equal(t, 2, p.HealthyCount())
}

func TestRunRecoveryStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	p := newTestPool(t, Config{
		Source: testSpecs(1),
		Prober: func(ctx context.Context, handle *rpcclient.Client) error {
			calls.Add(1)
			return nil
		},
	})
	p.MarkUnhealthy(0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.RunRecovery(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return p.registry.StateAt(0).View().Healthy
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunRecovery did not return after cancel")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
