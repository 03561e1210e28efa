package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rentline/rentchat/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for the harness; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	srv    *Server
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// handleWS mounts GET /ws. Auth via ?token=<JWT> or the Authorization
// header, matching the client push transport.
func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		h := c.GetHeader("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	cl, err := auth.ParseToken(s.Secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		srv:    s,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: cl.UserID,
	}
	s.Hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.srv.Hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		c.srv.handleAction(c.userID, ev)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleAction dispatches one client -> server control action.
func (s *Server) handleAction(userID string, ev wireEvent) {
	switch ev.Type {
	case "join_conversation", "leave_conversation":
		// fanout is per-user, membership is checked per event

	case "typing_start":
		s.setTyping(ev.ConversationID, userID, true)
		s.relayTyping(ev.ConversationID, userID, true)

	case "typing_stop":
		s.setTyping(ev.ConversationID, userID, false)
		s.relayTyping(ev.ConversationID, userID, false)

	case "mark_message_read":
		s.applyRead(userID, ev.MessageID)

	case "send_message":
		if ev.SenderID != "" && ev.SenderID != userID {
			return
		}
		s.deliver(userID, ev.ReceiverID, ev.Content)
	}
}

func (s *Server) relayTyping(convID, userID string, typing bool) {
	a, b, err := s.conversationPeers(convID)
	if err != nil {
		return
	}
	peer := a
	if userID == a {
		peer = b
	}
	s.Hub.SendToUser(peer, wireEvent{
		Type:           "user_typing",
		ConversationID: convID,
		UserID:         userID,
		IsTyping:       typing,
	})
}
