package scheduler

import (
	"sync"
	"time"
)

// CycleState is the scheduler's mutable state. The zero value is idle.
type CycleState struct {
	mu          sync.Mutex
	running     bool
	emptyCycles int
	lastRunAt   time.Time
	lastOutcome CycleOutcome
}

// CycleStatus is a point-in-time copy of CycleState
type CycleStatus struct {
	Running                bool         `json:"running"`
	ConsecutiveEmptyCycles int          `json:"consecutive_empty_cycles"`
	LastRunAt              *time.Time   `json:"last_run_at,omitempty"`
	LastOutcome            CycleOutcome `json:"last_outcome,omitempty"`
}

func (s *CycleState) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *CycleState) finish(at time.Time, outcome CycleOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRunAt = at
	s.lastOutcome = outcome
}

// recordEmpty bumps the empty-cycle counter and resets it to 0 once it
// exceeds max. It returns the counter after the update.
func (s *CycleState) recordEmpty(max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyCycles++
	if s.emptyCycles > max {
		s.emptyCycles = 0
	}
	return s.emptyCycles
}

func (s *CycleState) resetEmpty() {
	s.mu.Lock()
	s.emptyCycles = 0
	s.mu.Unlock()
}

// IsRunning reports whether a cycle is in progress
func (s *CycleState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a copy of the current state
func (s *CycleState) Status() CycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := CycleStatus{
		Running:                s.running,
		ConsecutiveEmptyCycles: s.emptyCycles,
		LastOutcome:            s.lastOutcome,
	}
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		status.LastRunAt = &at
	}
	return status
}
