package typing

import (
	"context"
	"sync"
	"time"

	"github.com/rentline/rentchat/internal/store"
)

const (
	// DefaultExpiry is how long a remote typing indicator survives without
	// a stop event before the sweep clears it.
	DefaultExpiry = 5 * time.Second

	sweepEvery = time.Second
)

// Watcher tracks remote typing state per conversation. A start event arms an
// expiry; a stop event clears immediately; a background sweep clears expired
// entries even when the stop was lost, so indicators are self-healing.
type Watcher struct {
	mu       sync.Mutex
	expiry   time.Duration
	states   map[string]store.TypingState // keyed by conversation id
	onChange func(conversationID string, typing bool)
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
}

// NewWatcher starts the sweep loop. onChange may be nil; when set it fires
// on every visible transition, including sweep-driven clears.
func NewWatcher(expiry time.Duration, onChange func(conversationID string, typing bool)) *Watcher {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		expiry:   expiry,
		states:   make(map[string]store.TypingState),
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go w.sweepLoop(ctx)
	return w
}

// Apply ingests one user_typing transport event.
func (w *Watcher) Apply(conversationID string, isTyping bool) {
	w.mu.Lock()
	prev := w.states[conversationID].IsTyping
	if isTyping {
		w.states[conversationID] = store.TypingState{IsTyping: true, ExpiresAt: w.now().Add(w.expiry)}
	} else {
		delete(w.states, conversationID)
	}
	w.mu.Unlock()
	if prev != isTyping && w.onChange != nil {
		w.onChange(conversationID, isTyping)
	}
}

// IsTyping reports whether the other participant is currently typing.
func (w *Watcher) IsTyping(conversationID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.states[conversationID]
	return ok && st.IsTyping && st.ExpiresAt.After(w.now())
}

func (w *Watcher) sweepLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watcher) sweep() {
	now := w.now()
	var cleared []string
	w.mu.Lock()
	for id, st := range w.states {
		if !st.ExpiresAt.After(now) {
			delete(w.states, id)
			cleared = append(cleared, id)
		}
	}
	w.mu.Unlock()
	if w.onChange != nil {
		for _, id := range cleared {
			w.onChange(id, false)
		}
	}
}

// Close stops the sweep loop.
func (w *Watcher) Close() {
	w.cancel()
	<-w.done
}
