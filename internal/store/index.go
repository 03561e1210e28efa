package store

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ConversationIndex holds every conversation of the signed-in user in
// display order (most recent activity first). It merges events from
// whichever transport is active; duplicate deliveries collapse to no-ops.
type ConversationIndex struct {
	mu      sync.Mutex
	selfID  string
	list    []*Conversation
	applied map[string]bool // server message ids already merged
	log     zerolog.Logger
}

func NewConversationIndex(selfID string, log zerolog.Logger) *ConversationIndex {
	return &ConversationIndex{
		selfID:  selfID,
		applied: make(map[string]bool),
		log:     log.With().Str("component", "conversation_index").Logger(),
	}
}

// Load replaces the full index with a fresh snapshot from the server.
func (ix *ConversationIndex) Load(convs []Conversation) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.list = ix.list[:0]
	ix.applied = make(map[string]bool)
	for i := range convs {
		c := convs[i]
		if c.LastMessage != nil && c.LastMessage.ID != "" {
			ix.applied[c.LastMessage.ID] = true
		}
		ix.list = append(ix.list, &c)
	}
}

// ApplyNewMessage merges one inbound or echoed message into the index. An
// unknown conversation id creates a new conversation entry rather than
// dropping the event. The touched conversation moves to the head of the
// list; relative order of the rest is preserved. A message older than the
// conversation's current last message is a replayed one: it never regresses
// the preview or the ordering, and a message already marked read never
// counts as unread.
func (ix *ConversationIndex) ApplyNewMessage(msg Message) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if msg.ID != "" {
		if ix.applied[msg.ID] {
			return
		}
		ix.applied[msg.ID] = true
	}

	pos := -1
	for i, c := range ix.list {
		if c.ID == msg.ConversationID {
			pos = i
			break
		}
	}
	m := msg
	if pos == -1 {
		other := m.Sender
		if m.Sender.ID == ix.selfID {
			other = m.Receiver
		}
		conv := &Conversation{
			ID:          m.ConversationID,
			Other:       other,
			LastMessage: &m,
		}
		if m.Receiver.ID == ix.selfID && !m.IsRead {
			conv.UnreadCount = 1
		}
		ix.list = append([]*Conversation{conv}, ix.list...)
		ix.log.Debug().Str("conversation_id", conv.ID).Msg("created conversation from message event")
		return
	}

	conv := ix.list[pos]
	if m.Receiver.ID == ix.selfID && !m.IsRead {
		conv.UnreadCount++
	}
	if conv.LastMessage != nil && m.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		return
	}
	conv.LastMessage = &m
	copy(ix.list[1:pos+1], ix.list[:pos])
	ix.list[0] = conv
}

// ApplyReadReceipt overwrites a conversation's unread count with the
// server-computed value. Setting rather than decrementing keeps the counter
// from drifting under concurrent events. Unknown conversations are ignored.
func (ix *ConversationIndex) ApplyReadReceipt(conversationID string, unreadCount int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range ix.list {
		if c.ID == conversationID {
			if unreadCount < 0 {
				unreadCount = 0
			}
			c.UnreadCount = unreadCount
			return
		}
	}
}

// Conversations returns the current display-ordered snapshot.
func (ix *ConversationIndex) Conversations() []Conversation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Conversation, 0, len(ix.list))
	for _, c := range ix.list {
		out = append(out, *c)
	}
	return out
}

// Search filters the index by case-insensitive substring match against the
// other participant's name or the last message content. The underlying
// index is untouched.
func (ix *ConversationIndex) Search(query string) []Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ix.Conversations()
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var out []Conversation
	for _, c := range ix.list {
		if strings.Contains(strings.ToLower(c.Other.Name), q) {
			out = append(out, *c)
			continue
		}
		if c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), q) {
			out = append(out, *c)
		}
	}
	return out
}

// Unread sums unread counters across all conversations.
func (ix *ConversationIndex) Unread() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for _, c := range ix.list {
		n += c.UnreadCount
	}
	return n
}
