package store

import "time"

// DeliveryState tracks a message through the optimistic-send lifecycle.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is one chat message. ID is server-assigned and empty while the
// message is an optimistic local copy; ProvisionalID is the locally generated
// id that stands in until confirmation and is kept afterwards so a retry of
// the same message can still be matched.
type Message struct {
	ID             string        `json:"id,omitempty"`
	ProvisionalID  string        `json:"provisional_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	Sender         User          `json:"sender"`
	Receiver       User          `json:"receiver"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	State          DeliveryState `json:"state,omitempty"`
	IsRead         bool          `json:"is_read"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
}

// Conversation is the persistent two-party context between the signed-in
// user and Other. LastMessage is nil for a brand-new conversation.
type Conversation struct {
	ID          string   `json:"id"`
	Other       User     `json:"other"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// TypingState is transient per-conversation remote typing info. It is never
// persisted; it is rebuilt from transport events and dies on expiry.
type TypingState struct {
	IsTyping  bool
	ExpiresAt time.Time
}

// ReconcileTolerance is how far apart the optimistic client clock and the
// server clock may be for a confirmed message to still match its pending
// counterpart.
const ReconcileTolerance = 30 * time.Second

// sameMessage reports whether a and b refer to the same logical message:
// either both carry the same server id, or one is the pending counterpart of
// the other (same sender, conversation and content, created within the
// tolerance window).
func sameMessage(a, b *Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if a.ProvisionalID != "" && a.ProvisionalID == b.ProvisionalID {
		return true
	}
	pending, confirmed := a, b
	if pending.State != DeliveryPending && pending.State != DeliveryFailed {
		pending, confirmed = b, a
	}
	if pending.State != DeliveryPending && pending.State != DeliveryFailed {
		return false
	}
	if pending.Sender.ID != confirmed.Sender.ID ||
		pending.ConversationID != confirmed.ConversationID ||
		pending.Content != confirmed.Content {
		return false
	}
	d := confirmed.CreatedAt.Sub(pending.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= ReconcileTolerance
}

// messageLess orders confirmed messages by created_at, ties broken by id.
func messageLess(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
