package pool

import "time"

// Limiter enforces each endpoint's ceiling on simultaneous in-flight calls.
type Limiter struct {
	registry *Registry
	Clock    func() time.Time
}

func NewLimiter(registry *Registry) *Limiter {
	return &Limiter{registry: registry}
}

// CanAcquire reports whether endpoint i could take one more call right now.
// It never consumes pacing tokens.
func (l *Limiter) CanAcquire(i int) bool {
	cfg, st, ok := l.registry.entry(i)
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.eligibleLocked(cfg, l.now())
}

// Acquire re-checks eligibility and takes a slot atomically. It returns false
// without mutating anything when the endpoint is not eligible or its request
// pacer has no token.
func (l *Limiter) Acquire(i int) bool {
	cfg, st, ok := l.registry.entry(i)
	if !ok {
		return false
	}
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.eligibleLocked(cfg, now) {
		return false
	}
	if st.pacer != nil && !st.pacer.AllowN(now, 1) {
		return false
	}
	st.CurrentConcurrent++
	return true
}

// Release returns a slot; the count never drops below zero.
func (l *Limiter) Release(i int) {
	_, st, ok := l.registry.entry(i)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.CurrentConcurrent > 0 {
		st.CurrentConcurrent--
	}
	st.mu.Unlock()
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
