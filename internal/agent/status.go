package agent

import (
	"sync"
	"time"

	"github.com/skobkin/lab-agent/internal/api"
)

// Status keeps the outcome of recent cycles for the local status listener.
// It is written by the scheduler and never read back by it.
type Status struct {
	mu          sync.RWMutex
	counts      map[Kind]uint64
	last        *CycleResult
	lastSuccess time.Time
	lastPayload *api.Payload
}

// StatusSnapshot is a point-in-time copy of Status.
type StatusSnapshot struct {
	Counts      map[Kind]uint64
	Last        *CycleResult
	LastSuccess time.Time
	LastPayload *api.Payload
}

// NewStatus constructs an empty Status.
func NewStatus() *Status {
	return &Status{counts: make(map[Kind]uint64, len(Kinds))}
}

// Record stores the outcome of a finished cycle.
func (s *Status) Record(result CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[result.Kind]++
	s.last = &result
	if result.OK() {
		s.lastSuccess = result.Started.Add(result.Duration)
		s.lastPayload = result.Payload
	}
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Kind]uint64, len(Kinds))
	for _, kind := range Kinds {
		counts[kind] = s.counts[kind]
	}

	out := StatusSnapshot{
		Counts:      counts,
		LastSuccess: s.lastSuccess,
		LastPayload: s.lastPayload,
	}
	if s.last != nil {
		last := *s.last
		out.Last = &last
	}
	return out
}

// LastPayload returns the most recently accepted payload.
func (s *Status) LastPayload() (api.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastPayload == nil {
		return api.Payload{}, false
	}
	return *s.lastPayload, true
}

// Ready reports whether the most recent cycle succeeded.
func (s *Status) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last != nil && s.last.OK()
}
