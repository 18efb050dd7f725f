package submit

import (
	"sync"
	"time"
)

// Effect is one post-success phase: clear the cart, show the banner, fire the
// confetti. Effects are cosmetic and never gate order creation.
type Effect struct {
	Name  string
	Delay time.Duration
	Run   func()
}

// Sequence runs effects strictly in order with a single live timer. Stop
// tears the whole thing down atomically so no timer outlives its owner.
type Sequence struct {
	mu      sync.Mutex
	steps   []Effect
	idx     int
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

func NewSequence(steps ...Effect) *Sequence {
	return &Sequence{
		steps: steps,
		done:  make(chan struct{}),
	}
}

func (s *Sequence) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.steps) == 0 {
		s.finishLocked()
		return
	}
	s.scheduleLocked()
}

// Stop cancels the pending timer and marks the sequence finished. Safe to
// call more than once and after completion.
func (s *Sequence) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.finishLocked()
}

// Done closes when every step has run or the sequence was stopped.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

func (s *Sequence) scheduleLocked() {
	step := s.steps[s.idx]
	s.timer = time.AfterFunc(step.Delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		run := s.steps[s.idx].Run
		s.idx++
		s.mu.Unlock()

		// The next timer is armed only after this step has fully run, so
		// steps never overlap even with zero delays.
		if run != nil {
			run()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		if s.idx >= len(s.steps) {
			s.finishLocked()
			return
		}
		s.scheduleLocked()
	})
}

func (s *Sequence) finishLocked() {
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
}
