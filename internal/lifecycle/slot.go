package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/loykin/sidecar/internal/launcher"
)

// State of the worker as seen by the host.
type State int

const (
	Unstarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

var errSlotBusy = errors.New("worker slot already used")

// Slot holds at most one worker handle. Its mutex guards the handle and the
// state together and is only ever held for the take-and-clear itself; no OS
// call happens under it.
type Slot struct {
	mu        sync.Mutex
	handle    *launcher.Handle
	state     State
	trigger   Trigger
	stoppedAt time.Time
}

// Fill stores h and moves Unstarted to Running. A slot is filled once.
func (s *Slot) Fill(h *launcher.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unstarted || s.handle != nil {
		return errSlotBusy
	}
	s.handle = h
	s.state = Running
	return nil
}

// Take removes and returns the handle, leaving the slot empty, and moves
// Running to Stopped. It returns nil when there is nothing to take.
func (s *Slot) Take(t Trigger) *launcher.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	if h == nil {
		return nil
	}
	s.handle = nil
	s.state = Stopped
	s.trigger = t
	s.stoppedAt = time.Now()
	return h
}

// Holds reports whether h is the handle currently stored.
func (s *Slot) Holds(h *launcher.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h != nil && s.handle == h
}

type snapshot struct {
	handle    *launcher.Handle
	state     State
	trigger   Trigger
	stoppedAt time.Time
}

func (s *Slot) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{handle: s.handle, state: s.state, trigger: s.trigger, stoppedAt: s.stoppedAt}
}

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
