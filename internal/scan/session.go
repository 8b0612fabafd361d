package scan

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle states.
const (
	SessionIdle     = "idle"
	SessionRunning  = "running"
	SessionStopping = "stopping"
	SessionStopped  = "stopped"
	SessionComplete = "complete"
)

// Session tracks one scan run. Counters are updated by workers and read
// concurrently by the API and CLI progress display.
type Session struct {
	ID        string    `json:"id"`
	Network   string    `json:"network"`
	StartedAt time.Time `json:"started_at"`

	state atomic.Value // string

	total     atomic.Uint64
	completed atomic.Uint64
	found     atomic.Uint64
	errors    atomic.Uint64
	retries   atomic.Uint64

	endedAt atomic.Value // time.Time
}

// NewSession creates a session for a target network.
func NewSession(network string, total uint64) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Network:   network,
		StartedAt: time.Now().UTC(),
	}
	s.total.Store(total)
	s.state.Store(SessionIdle)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	return s.state.Load().(string)
}

func (s *Session) setState(state string) {
	s.state.Store(state)
	if state == SessionStopped || state == SessionComplete {
		s.endedAt.Store(time.Now().UTC())
	}
}

// Counters.
func (s *Session) Total() uint64     { return s.total.Load() }
func (s *Session) Completed() uint64 { return s.completed.Load() }
func (s *Session) Found() uint64     { return s.found.Load() }
func (s *Session) Errors() uint64    { return s.errors.Load() }
func (s *Session) Retries() uint64   { return s.retries.Load() }
func (s *Session) addCompleted()     { s.completed.Add(1) }
func (s *Session) addFound()         { s.found.Add(1) }
func (s *Session) addError()         { s.errors.Add(1) }
func (s *Session) addRetry()         { s.retries.Add(1) }

// EndedAt returns when the session finished, zero while running.
func (s *Session) EndedAt() time.Time {
	if v := s.endedAt.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// Progress is a serializable snapshot of the session.
type Progress struct {
	ID        string    `json:"id"`
	Network   string    `json:"network"`
	State     string    `json:"state"`
	Total     uint64    `json:"total"`
	Completed uint64    `json:"completed"`
	Found     uint64    `json:"found"`
	Errors    uint64    `json:"errors"`
	Retries   uint64    `json:"retries"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Snapshot captures the session state for reporting.
func (s *Session) Snapshot() Progress {
	total := s.Total()
	completed := s.Completed()
	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}
	return Progress{
		ID:        s.ID,
		Network:   s.Network,
		State:     s.State(),
		Total:     total,
		Completed: completed,
		Found:     s.Found(),
		Errors:    s.Errors(),
		Retries:   s.Retries(),
		Percent:   percent,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt(),
	}
}
