package pool

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrorKind classifies a failed attempt.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindQuotaExceeded
	KindTimeout
	// KindPoolExhausted means no endpoint could be selected or acquired. It is
	// never charged to an endpoint.
	KindPoolExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTimeout:
		return "timeout"
	case KindPoolExhausted:
		return "pool_exhausted"
	default:
		return "other"
	}
}

// ErrorCounts tallies failures per error class.
type ErrorCounts struct {
	RateLimited   int64 `json:"rate_limited"`
	QuotaExceeded int64 `json:"quota_exceeded"`
	Timeout       int64 `json:"timeout"`
	Other         int64 `json:"other"`
}

func (c *ErrorCounts) add(kind ErrorKind) {
	switch kind {
	case KindRateLimited:
		c.RateLimited++
	case KindQuotaExceeded:
		c.QuotaExceeded++
	case KindTimeout:
		c.Timeout++
	case KindPoolExhausted:
	default:
		c.Other++
	}
}

// Total returns the sum of all classes.
func (c ErrorCounts) Total() int64 {
	return c.RateLimited + c.QuotaExceeded + c.Timeout + c.Other
}

// EndpointConfig is the resolved, immutable configuration of one endpoint.
type EndpointConfig struct {
	Name          string
	URL           string
	SecondaryURL  string
	MaxConcurrent int
	Cooldown      time.Duration
	BackoffBase   time.Duration
	RateLimitRPS  float64
}

// StateView is a point-in-time copy of an endpoint's runtime state.
type StateView struct {
	Failures          int
	Successes         int64
	Healthy           bool
	BackoffUntil      *time.Time
	CurrentConcurrent int
	ProcessedCount    int64
	AvgLatencyMs      *float64
	ErrorCounts       ErrorCounts
}

// InBackoff reports whether a backoff window is still open at now.
func (v StateView) InBackoff(now time.Time) bool {
	return v.BackoffUntil != nil && now.Before(*v.BackoffUntil)
}

// EndpointState is the mutable runtime record of one endpoint. All fields are
// guarded by mu; readers outside the package use View.
type EndpointState struct {
	mu sync.Mutex
	StateView

	pacer *rate.Limiter
}

func newEndpointState(cfg EndpointConfig) *EndpointState {
	st := &EndpointState{StateView: StateView{Healthy: true}}
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		st.pacer = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return st
}

// View returns a copy of the state that is safe to retain.
func (s *EndpointState) View() StateView {
	if s == nil {
		return StateView{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *EndpointState) copyLocked() StateView {
	v := s.StateView
	if s.BackoffUntil != nil {
		until := *s.BackoffUntil
		v.BackoffUntil = &until
	}
	if s.AvgLatencyMs != nil {
		avg := *s.AvgLatencyMs
		v.AvgLatencyMs = &avg
	}
	return v
}

// extendBackoffLocked opens a backoff window ending at until, never shortening
// one that is already open.
func (s *EndpointState) extendBackoffLocked(until time.Time) {
	if s.BackoffUntil != nil && s.BackoffUntil.After(until) {
		return
	}
	s.BackoffUntil = &until
}

// eligibleLocked is the shared disqualification rule used by the selector and
// the limiter.
func (s *EndpointState) eligibleLocked(cfg EndpointConfig, now time.Time) bool {
	if !s.Healthy {
		return false
	}
	if s.InBackoff(now) {
		return false
	}
	return s.CurrentConcurrent < cfg.MaxConcurrent
}
