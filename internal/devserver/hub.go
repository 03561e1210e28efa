package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/store"
)

// wireEvent is the harness's websocket frame, both directions: a type-tagged
// JSON object. It mirrors the event kinds and control actions the client
// transports speak.
type wireEvent struct {
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

// Hub fans events out to connected websocket clients, keyed by user id so a
// user's every open connection receives the same deliveries.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]bool),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*wsClient]bool)
	}
	h.clients[c.userID][c] = true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.userID]; ok {
		if set[c] {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, c.userID)
			}
		}
	}
}

// SendToUser delivers one event to every connection of one user. Slow or
// broken clients are dropped.
func (h *Hub) SendToUser(userID string, ev wireEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal wire event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	for c := range set {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(set, c)
			h.log.Warn().Str("user_id", userID).Msg("dropped slow client")
		}
	}
}
