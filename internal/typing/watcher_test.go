package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherStartAndStop(t *testing.T) {
	w := NewWatcher(time.Minute, nil)
	defer w.Close()

	assert.False(t, w.IsTyping("c1"))
	w.Apply("c1", true)
	assert.True(t, w.IsTyping("c1"))
	assert.False(t, w.IsTyping("c2"))

	w.Apply("c1", false)
	assert.False(t, w.IsTyping("c1"))
}

func TestWatcherSelfHealsWithoutStopEvent(t *testing.T) {
	w := NewWatcher(60*time.Millisecond, nil)
	defer w.Close()

	w.Apply("c1", true)
	require.True(t, w.IsTyping("c1"))

	time.Sleep(100 * time.Millisecond)
	// expired even though no stop event ever arrived
	assert.False(t, w.IsTyping("c1"))

	// the sweep also evicts the stale entry and reports the transition
	w.sweep()
	w.mu.Lock()
	_, present := w.states["c1"]
	w.mu.Unlock()
	assert.False(t, present)
}

func TestWatcherOnChangeFiresOnTransitions(t *testing.T) {
	var mu sync.Mutex
	var got []bool
	w := NewWatcher(50*time.Millisecond, func(convID string, typing bool) {
		mu.Lock()
		got = append(got, typing)
		mu.Unlock()
	})
	defer w.Close()

	w.Apply("c1", true)
	w.Apply("c1", true) // repeated start is not a transition
	time.Sleep(80 * time.Millisecond)
	w.sweep()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, got)
}

func TestWatcherFreshStartRearmsExpiry(t *testing.T) {
	w := NewWatcher(80*time.Millisecond, nil)
	defer w.Close()

	w.Apply("c1", true)
	time.Sleep(50 * time.Millisecond)
	w.Apply("c1", true) // keepalive start pushes expiry out
	time.Sleep(50 * time.Millisecond)
	assert.True(t, w.IsTyping("c1"))
}
