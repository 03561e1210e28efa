package typing

import (
	"sync"
	"time"
)

// DefaultIdle is the trailing inactivity window after the last keystroke
// before a typing stop is broadcast.
const DefaultIdle = 1000 * time.Millisecond

// Broadcaster is the slice of the transport channel the signal needs.
type Broadcaster interface {
	NotifyTyping(conversationID string, typing bool)
}

// Signal debounces the local user's typing into at most one start and one
// stop broadcast per burst of keystrokes. States: idle and typing-sent. The
// first keystroke after idle emits start; each further keystroke only resets
// the inactivity timer; the timer elapsing (or a message send) returns to
// idle and emits stop.
type Signal struct {
	mu             sync.Mutex
	conversationID string
	ch             Broadcaster
	idle           time.Duration
	active         bool
	timer          *time.Timer
	lastKeystroke  time.Time
}

func NewSignal(conversationID string, ch Broadcaster, idle time.Duration) *Signal {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Signal{conversationID: conversationID, ch: ch, idle: idle}
}

// Keystroke records one keypress in the composer.
func (s *Signal) Keystroke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKeystroke = time.Now()
	if !s.active {
		s.active = true
		s.ch.NotifyTyping(s.conversationID, true)
		s.timer = time.AfterFunc(s.idle, s.expire)
		return
	}
	s.timer.Reset(s.idle)
}

func (s *Signal) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	// A timer that fired while a keystroke was resetting it arrives here
	// stale; the reset timer is still pending, so stay in the burst.
	if time.Since(s.lastKeystroke) < s.idle {
		return
	}
	s.active = false
	s.ch.NotifyTyping(s.conversationID, false)
}

// MessageSent forces the signal back to idle immediately, emitting the stop
// so the remote indicator clears without waiting out the timer.
func (s *Signal) MessageSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Stop tears the signal down on thread close. Safe to call twice.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Signal) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.active {
		s.active = false
		s.ch.NotifyTyping(s.conversationID, false)
	}
}
