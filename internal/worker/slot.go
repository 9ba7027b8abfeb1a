package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"errands/internal/domain"
	"errands/internal/errand"
)

type State int32

const (
	StateUnscheduled State = iota
	StateWaiting
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnscheduled:
		return "unscheduled"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Slot is the worker state of one errand.
type Slot struct {
	errand   *errand.Errand
	state    atomic.Int32
	runs     atomic.Int64
	failures atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

type SlotStatus struct {
	ErrandID  string
	Name      string
	Category  domain.Category
	Expr      string
	State     State
	NextRun   time.Time
	LastRun   time.Time
	LastError string
	Runs      int64
	Failures  int64
}

func (s *Slot) setState(st State) { s.state.Store(int32(st)) }

func (s *Slot) finish(start time.Time, err error) {
	s.runs.Add(1)
	s.mu.Lock()
	s.lastRun = start
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	if err != nil {
		s.failures.Add(1)
		s.setState(StateFailed)
		return
	}
	s.setState(StateSucceeded)
}

func (s *Slot) status() SlotStatus {
	s.mu.Lock()
	lastRun, lastErr := s.lastRun, s.lastErr
	s.mu.Unlock()
	return SlotStatus{
		ErrandID:  s.errand.ID(),
		Name:      s.errand.Name(),
		Category:  s.errand.Category(),
		Expr:      s.errand.Expr(),
		State:     State(s.state.Load()),
		NextRun:   s.errand.NextRun(),
		LastRun:   lastRun,
		LastError: lastErr,
		Runs:      s.runs.Load(),
		Failures:  s.failures.Load(),
	}
}
