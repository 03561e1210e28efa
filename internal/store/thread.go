package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageThread is the ordered, deduplicated message history of one open
// conversation. It owns read-state transitions and the reconciliation of
// optimistic sends against their server confirmations.
type MessageThread struct {
	mu             sync.Mutex
	conversationID string
	self           User
	other          User
	msgs           []*Message
	log            zerolog.Logger
	now            func() time.Time
}

func NewMessageThread(conversationID string, self, other User, history []Message, log zerolog.Logger) *MessageThread {
	t := &MessageThread{
		conversationID: conversationID,
		self:           self,
		other:          other,
		log:            log.With().Str("component", "message_thread").Str("conversation_id", conversationID).Logger(),
		now:            time.Now,
	}
	for i := range history {
		m := history[i]
		if m.State == "" {
			m.State = DeliveryConfirmed
		}
		t.msgs = append(t.msgs, &m)
	}
	sort.SliceStable(t.msgs, func(i, j int) bool { return messageLess(t.msgs[i], t.msgs[j]) })
	return t
}

func (t *MessageThread) ConversationID() string { return t.conversationID }
func (t *MessageThread) Other() User            { return t.other }

// AppendOptimistic appends a locally composed message at the tail with a
// provisional id so the UI can render it before the server confirms.
func (t *MessageThread) AppendOptimistic(content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &Message{
		ProvisionalID:  uuid.NewString(),
		ConversationID: t.conversationID,
		Sender:         t.self,
		Receiver:       t.other,
		Content:        content,
		CreatedAt:      t.now(),
		State:          DeliveryPending,
	}
	t.msgs = append(t.msgs, m)
	return *m
}

// Reconcile merges a confirmed message into the thread. A matching pending
// message is replaced in place (same list position); a message already known
// by id is a no-op; anything else is inserted at its chronological position.
// Remote messages with no local counterpart take the insert path.
func (t *MessageThread) Reconcile(confirmed Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirmed.State = DeliveryConfirmed
	for i, m := range t.msgs {
		if !sameMessage(m, &confirmed) {
			continue
		}
		// Keep the provisional id so later duplicates of either copy
		// still collapse here. Read state only moves forward.
		if confirmed.ProvisionalID == "" {
			confirmed.ProvisionalID = m.ProvisionalID
		}
		if m.IsRead && !confirmed.IsRead {
			confirmed.IsRead = true
			confirmed.ReadAt = m.ReadAt
		}
		t.msgs[i] = &confirmed
		return
	}

	m := confirmed
	at := sort.Search(len(t.msgs), func(i int) bool { return !messageLess(t.msgs[i], &m) })
	t.msgs = append(t.msgs, nil)
	copy(t.msgs[at+1:], t.msgs[at:])
	t.msgs[at] = &m
}

// MarkFailed flips a pending message to failed so the UI can offer a retry.
func (t *MessageThread) MarkFailed(provisionalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.ProvisionalID == provisionalID && m.State == DeliveryPending {
			m.State = DeliveryFailed
			return
		}
	}
}

// MarkPending flips a failed message back to pending for a manual retry.
func (t *MessageThread) MarkPending(provisionalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.ProvisionalID == provisionalID && m.State == DeliveryFailed {
			m.State = DeliveryPending
			return true
		}
	}
	return false
}

// ByProvisionalID returns a copy of the message with the given provisional id.
func (t *MessageThread) ByProvisionalID(provisionalID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.ProvisionalID == provisionalID {
			return *m, true
		}
	}
	return Message{}, false
}

// MarkVisibleAsRead flips every unread message addressed to the self user
// and returns the ids that changed so the caller can emit read receipts.
// A second call on an already-read thread returns nothing.
func (t *MessageThread) MarkVisibleAsRead() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var flipped []string
	now := t.now()
	for _, m := range t.msgs {
		if m.Receiver.ID == t.self.ID && !m.IsRead && m.ID != "" {
			m.IsRead = true
			at := now
			m.ReadAt = &at
			flipped = append(flipped, m.ID)
		}
	}
	return flipped
}

// ApplyReadReceipt records that the other participant read one of our
// messages. is_read is monotonic: a receipt never un-reads a message.
func (t *MessageThread) ApplyReadReceipt(messageID string, readAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.msgs {
		if m.ID == messageID {
			if !m.IsRead {
				m.IsRead = true
				at := readAt
				m.ReadAt = &at
			}
			return
		}
	}
}

// Messages returns the ordered snapshot of the thread.
func (t *MessageThread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.msgs))
	for _, m := range t.msgs {
		out = append(out, *m)
	}
	return out
}
