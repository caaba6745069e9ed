// Package alerts implements the interruptible alert-ingress listeners,
// the LVC and GRB handlers, and the shared AlertBuffer/Signal primitives
// the scheduler polls, grounded on scheduler.py's AlertBuffer/
// threading.Event usage plus lvc_alert.py/fermi_alert.py/dummy_alert.py's
// handler shape.
package alerts

import (
	"sync"
	"time"

	"github.com/stpaulobs/turbosched/internal/targets"
)

// Buffer is the single-slot "latest wins" mailbox shared by every
// AlertHandler and read by the scheduler. Handlers only ever overwrite
// the slot; the scheduler only ever takes it.
type Buffer struct {
	mu  sync.Mutex
	cur targets.Schedule
	set bool
}

// Publish overwrites the buffer's contents under lock — intentional
// coalescing: two alerts arriving before the scheduler drains the
// buffer collapse into the most recent one.
func (b *Buffer) Publish(sched targets.Schedule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = sched
	b.set = true
}

// Take returns the buffered schedule and clears the slot. ok is false
// if nothing has been published since the last Take.
func (b *Buffer) Take() (sched targets.Schedule, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.set {
		return targets.Schedule{}, false
	}
	sched, b.set = b.cur, false
	return sched, true
}

// Signal is a level-triggered notification: once Raise is called it
// stays raised until Clear, and any number of Wait calls observe it
// without leaking goroutines (the gate channel is only ever closed,
// never sent on, so any number of waiters can select on it at once).
// It doubles as the scheduler's wake event: raising it aborts the
// scheduler's current blocking wait immediately.
type Signal struct {
	mu   sync.Mutex
	on   bool
	gate chan struct{}
}

// NewSignal returns a cleared Signal ready for use.
func NewSignal() *Signal {
	return &Signal{gate: make(chan struct{})}
}

// Raise sets the signal and wakes any goroutines blocked in Wait.
func (s *Signal) Raise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		s.on = true
		close(s.gate)
	}
}

// Clear resets the signal to unset.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on {
		s.on = false
		s.gate = make(chan struct{})
	}
}

// IsSet reports whether the signal is currently raised.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Wait blocks until the signal is raised or timeout elapses, returning
// whether it was raised. A zero or negative timeout waits indefinitely.
func (s *Signal) Wait(timeout time.Duration) bool {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if timeout <= 0 {
		<-gate
		return true
	}

	select {
	case <-gate:
		return true
	case <-time.After(timeout):
		return s.IsSet()
	}
}
