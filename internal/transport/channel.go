package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/store"
)

// State is the observable connection state of a channel.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Error taxonomy shared by both channel implementations.
var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrSendFailed           = errors.New("send failed")
	ErrFetchFailed          = errors.New("fetch failed")
)

// Handler receives one event. Handlers run sequentially on the channel's
// delivery goroutine; they must not block for long.
type Handler func(Event)

// Channel is one bidirectional event source. Exactly one implementation is
// active per session, chosen at session start and never renegotiated.
type Channel interface {
	// Subscribe registers a handler for one event kind and returns the
	// unsubscribe func. View teardown must call it.
	Subscribe(kind EventKind, h Handler) (unsubscribe func())

	// Send delivers a message to the other participant. When the returned
	// message is non-nil it is the server-confirmed copy (REST path); when
	// nil with no error, confirmation arrives later as a new_message event.
	Send(ctx context.Context, req api.SendRequest) (*store.Message, error)

	// JoinConversation and LeaveConversation scope per-thread delivery:
	// the push channel joins the server-side room, the pull channel starts
	// and stops the thread poll.
	JoinConversation(id string)
	LeaveConversation(id string)

	// NotifyTyping broadcasts the local typing state for a conversation.
	NotifyTyping(conversationID string, typing bool)

	// MarkRead acknowledges a message as read by the self user.
	MarkRead(ctx context.Context, messageID string) error

	State() State
	Close() error
}

// dispatcher fans events out to typed subscribers. Publish runs handlers
// synchronously so store mutations stay serialized per delivery goroutine.
type dispatcher struct {
	mu       sync.Mutex
	next     int
	handlers map[EventKind]map[int]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[EventKind]map[int]Handler)}
}

func (d *dispatcher) subscribe(kind EventKind, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[kind] == nil {
		d.handlers[kind] = make(map[int]Handler)
	}
	id := d.next
	d.next++
	d.handlers[kind][id] = h
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[kind], id)
	}
}

func (d *dispatcher) publish(e Event) {
	d.mu.Lock()
	hs := make([]Handler, 0, len(d.handlers[e.Kind]))
	for _, h := range d.handlers[e.Kind] {
		hs = append(hs, h)
	}
	d.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}
