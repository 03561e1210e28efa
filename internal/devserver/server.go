// Package devserver is the development harness for the chat client: a small
// gin server that speaks the exact REST and websocket contract the client's
// transports expect, backed by sqlite. It exists so both transports can be
// exercised end to end without the production backend.
package devserver

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/auth"
	"github.com/rentline/rentchat/internal/httpx"
	"github.com/rentline/rentchat/internal/store"
)

// typingWindow is how long a typing_start stays visible to pull-mode clients
// that can only observe typing through thread snapshots.
const typingWindow = 5 * time.Second

type Server struct {
	DB     *sql.DB
	Hub    *Hub
	Secret string
	TTL    time.Duration
	Log    zerolog.Logger

	typingMu sync.Mutex
	typing   map[string]time.Time // conversationID+userID -> started at
}

func New(db *sql.DB, secret string, ttl time.Duration, log zerolog.Logger) *Server {
	return &Server{
		DB:     db,
		Hub:    NewHub(log),
		Secret: secret,
		TTL:    ttl,
		Log:    log.With().Str("component", "devserver").Logger(),
		typing: make(map[string]time.Time),
	}
}

// Router mounts the full harness surface on a fresh gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/login", s.login)
	r.GET("/ws", s.handleWS)

	api := r.Group("/", auth.JWTMiddleware(s.Secret))
	api.GET("/chat/conversations/:userId", s.conversations)
	api.GET("/chat/conversation/:userId1/:userId2", s.conversation)
	api.POST("/chat/send", s.send)
	api.PATCH("/chat/message/:id/read", s.read)
	api.GET("/chat/search", s.search)
	return r
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sendReq struct {
	SenderID   string `json:"sender_id" binding:"required"`
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

type pageReq struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (q *pageReq) normalize() (limit, offset int) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return q.Limit, (q.Page - 1) * q.Limit
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationErrors.Error())
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.userByUsername(req.Username)
	if err != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	tok, err := auth.NewToken(s.Secret, u.ID, u.Name, s.TTL)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	httpx.OK(c, gin.H{"token": tok, "user": gin.H{"id": u.ID, "name": u.Name}})
}

func (s *Server) conversations(c *gin.Context) {
	uid := auth.MustUserID(c)
	if c.Param("userId") != uid {
		httpx.Err(c, http.StatusForbidden, "not your conversation list")
		return
	}
	var q pageReq
	_ = c.BindQuery(&q)
	limit, offset := q.normalize()

	list, err := s.listConversations(uid, limit, offset)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s *Server) conversation(c *gin.Context) {
	uid := auth.MustUserID(c)
	selfID, otherID := c.Param("userId1"), c.Param("userId2")
	if selfID != uid {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}
	other, err := s.userByID(otherID)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "unknown user")
		return
	}
	convID, err := s.ensureConversation(selfID, otherID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "resolve conversation failed")
		return
	}
	var q pageReq
	_ = c.BindQuery(&q)
	limit, offset := q.normalize()

	msgs, err := s.listMessages(convID, limit, offset)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{
		"conversation_id": convID,
		"other_user":      other,
		"messages":        msgs,
		"other_typing":    s.typingActive(convID, otherID),
	})
}

func (s *Server) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, validationErrors.Error())
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.SenderID != uid {
		httpx.Err(c, http.StatusForbidden, "sender mismatch")
		return
	}
	msg, err := s.deliver(req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) read(c *gin.Context) {
	uid := auth.MustUserID(c)
	if ok := s.applyRead(uid, c.Param("id")); !ok {
		httpx.Err(c, http.StatusNotFound, "unknown message")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s *Server) search(c *gin.Context) {
	uid := auth.MustUserID(c)
	list, err := s.searchConversations(uid, c.Query("query"))
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"conversations": list})
}

// deliver persists a message and fans it out: new_message to both sides (the
// sender's copy doubles as the push-mode send confirmation) and the
// receiver's updated unread count.
func (s *Server) deliver(senderID, receiverID, content string) (*store.Message, error) {
	msg, err := s.insertMessage(senderID, receiverID, content)
	if err != nil {
		return nil, err
	}
	s.setTyping(msg.ConversationID, senderID, false)

	ev := wireEvent{Type: "new_message", Message: msg}
	s.Hub.SendToUser(senderID, ev)
	s.Hub.SendToUser(receiverID, ev)
	s.Hub.SendToUser(receiverID, wireEvent{
		Type:           "message_notification",
		ConversationID: msg.ConversationID,
		UnreadCount:    s.unreadCount(msg.ConversationID, receiverID),
	})
	return msg, nil
}

// applyRead flips a message read and notifies the original sender.
func (s *Server) applyRead(readerID, messageID string) bool {
	msg, err := s.markRead(messageID, readerID)
	if err != nil {
		return false
	}
	if msg.IsRead {
		s.Hub.SendToUser(msg.Sender.ID, wireEvent{
			Type:      "message_read",
			MessageID: msg.ID,
			ReadAt:    msg.ReadAt,
		})
	}
	s.Hub.SendToUser(readerID, wireEvent{
		Type:           "message_notification",
		ConversationID: msg.ConversationID,
		UnreadCount:    s.unreadCount(msg.ConversationID, readerID),
	})
	return true
}

func (s *Server) setTyping(convID, userID string, typing bool) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	key := convID + "/" + userID
	if typing {
		s.typing[key] = time.Now()
	} else {
		delete(s.typing, key)
	}
}

func (s *Server) typingActive(convID, userID string) bool {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	at, ok := s.typing[convID+"/"+userID]
	return ok && time.Since(at) < typingWindow
}
