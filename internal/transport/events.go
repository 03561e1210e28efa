package transport

import (
	"time"

	"github.com/rentline/rentchat/internal/store"
)

// EventKind discriminates the events a channel can deliver. Both transports
// produce the same kinds, so the stores never learn which one is active.
type EventKind string

const (
	EventNewMessage          EventKind = "new_message"
	EventMessageNotification EventKind = "message_notification"
	EventTypingChanged       EventKind = "user_typing"
	EventMessageRead         EventKind = "message_read"
)

// Notification carries the server-computed unread count for a conversation.
type Notification struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

// TypingChange reports a remote participant starting or stopping to type.
type TypingChange struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ReadReceipt reports that a message the self user sent was read.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Event is one delivery from a channel; exactly one payload field matching
// Kind is set.
type Event struct {
	Kind         EventKind
	Message      *store.Message
	Notification *Notification
	Typing       *TypingChange
	Read         *ReadReceipt
}

// envelope is the wire format of the push channel, mirrored by the dev
// harness: a type-tagged JSON object, one per websocket frame.
type envelope struct {
	Type           string         `json:"type"`
	Message        *store.Message `json:"message,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UnreadCount    int            `json:"unread_count,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	IsTyping       bool           `json:"is_typing,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	SenderID       string         `json:"sender_id,omitempty"`
	ReceiverID     string         `json:"receiver_id,omitempty"`
	Content        string         `json:"content,omitempty"`
}

// Control action types sent client -> server on the push channel.
const (
	actionJoin      = "join_conversation"
	actionLeave     = "leave_conversation"
	actionTypeStart = "typing_start"
	actionTypeStop  = "typing_stop"
	actionMarkRead  = "mark_message_read"
	actionSend      = "send_message"
)
