package pool

import (
	"sync"
	"time"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

// Selection is a picked endpoint. Index is -1 when nothing was eligible.
type Selection struct {
	Index  int
	Handle *rpcclient.Client
}

// NoSelection is the not-found sentinel returned by Selector.Next.
var NoSelection = Selection{Index: -1}

// Selector is a round-robin picker that skips disqualified endpoints.
type Selector struct {
	registry *Registry
	Clock    func() time.Time

	mu     sync.Mutex
	cursor int
}

func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Next scans at most one full cycle from the cursor and returns the first
// eligible endpoint, moving the cursor past it. It returns NoSelection, false
// when every endpoint is unhealthy, backed off or at its ceiling.
func (s *Selector) Next() (Selection, bool) {
	n := s.registry.Size()
	if n == 0 {
		return NoSelection, false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cursor % n
	for offset := 0; offset < n; offset++ {
		i := (start + offset) % n
		cfg, st, ok := s.registry.entry(i)
		if !ok || st == nil {
			continue
		}

		st.mu.Lock()
		eligible := st.eligibleLocked(cfg, now)
		st.mu.Unlock()
		if !eligible {
			continue
		}

		s.cursor = (i + 1) % n
		return Selection{Index: i, Handle: s.registry.HandleAt(i)}, true
	}

	return NoSelection, false
}

func (s *Selector) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
