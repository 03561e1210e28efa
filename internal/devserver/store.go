package devserver

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rentline/rentchat/internal/auth"
	"github.com/rentline/rentchat/internal/store"
)

type userRow struct {
	ID           string
	Username     string
	Name         string
	AvatarURL    string
	PasswordHash string
}

func (s *Server) userByID(id string) (store.User, error) {
	var u store.User
	err := s.DB.QueryRow(`SELECT id, name, avatar_url FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.AvatarURL)
	return u, err
}

func (s *Server) userByUsername(username string) (userRow, error) {
	var u userRow
	err := s.DB.QueryRow(`SELECT id, username, name, avatar_url, password_hash FROM users WHERE username=?`, username).
		Scan(&u.ID, &u.Username, &u.Name, &u.AvatarURL, &u.PasswordHash)
	return u, err
}

// CreateUser seeds one harness user.
func (s *Server) CreateUser(username, name, password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.DB.Exec(`INSERT INTO users (id, username, name, password_hash) VALUES (?, ?, ?, ?)`,
		id, username, name, hash)
	if err != nil {
		return "", errors.Wrap(err, "create user")
	}
	return id, nil
}

// ensureConversation resolves the one conversation per unordered user pair,
// creating it on first contact. The pair is stored normalized so the UNIQUE
// constraint enforces the invariant.
func (s *Server) ensureConversation(a, b string) (string, error) {
	ua, ub := a, b
	if ub < ua {
		ua, ub = ub, ua
	}
	var id string
	err := s.DB.QueryRow(`SELECT id FROM conversations WHERE user_a=? AND user_b=?`, ua, ub).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	id = uuid.NewString()
	if _, err := s.DB.Exec(`INSERT INTO conversations (id, user_a, user_b) VALUES (?, ?, ?)`, id, ua, ub); err != nil {
		return "", errors.Wrap(err, "create conversation")
	}
	return id, nil
}

func (s *Server) conversationPeers(convID string) (string, string, error) {
	var a, b string
	err := s.DB.QueryRow(`SELECT user_a, user_b FROM conversations WHERE id=?`, convID).Scan(&a, &b)
	return a, b, err
}

// listConversations builds the conversation list for one user, most recent
// activity first, with last message and unread count.
func (s *Server) listConversations(userID string, limit, offset int) ([]store.Conversation, error) {
	rows, err := s.DB.Query(`
		SELECT c.id, CASE WHEN c.user_a=? THEN c.user_b ELSE c.user_a END AS other_id
		FROM conversations c
		WHERE c.user_a=? OR c.user_b=?
		ORDER BY COALESCE((SELECT MAX(created_at) FROM messages m WHERE m.conversation_id=c.id), c.created_at) DESC
		LIMIT ? OFFSET ?`, userID, userID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		var convID, otherID string
		if err := rows.Scan(&convID, &otherID); err != nil {
			continue
		}
		other, err := s.userByID(otherID)
		if err != nil {
			continue
		}
		c := store.Conversation{ID: convID, Other: other}
		if last, err := s.lastMessage(convID); err == nil {
			c.LastMessage = last
		}
		c.UnreadCount = s.unreadCount(convID, userID)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Server) lastMessage(convID string) (*store.Message, error) {
	msgs, err := s.listMessages(convID, 1, 0)
	if err != nil || len(msgs) == 0 {
		return nil, errors.New("no messages")
	}
	m := msgs[len(msgs)-1]
	return &m, nil
}

func (s *Server) unreadCount(convID, userID string) int {
	var n int
	_ = s.DB.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id=? AND receiver_id=? AND is_read=0`,
		convID, userID).Scan(&n)
	return n
}

// listMessages returns one page of a thread in ascending created_at order.
func (s *Server) listMessages(convID string, limit, offset int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(`
		SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.created_at, m.is_read, m.read_at
		FROM messages m
		WHERE m.conversation_id=?
		ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`, convID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []store.Message
	for rows.Next() {
		var m store.Message
		var senderID, receiverID string
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ConversationID, &senderID, &receiverID, &m.Content, &m.CreatedAt, &m.IsRead, &readAt); err != nil {
			continue
		}
		if readAt.Valid {
			at := readAt.Time
			m.ReadAt = &at
		}
		m.State = store.DeliveryConfirmed
		if m.Sender, err = s.userByID(senderID); err != nil {
			continue
		}
		if m.Receiver, err = s.userByID(receiverID); err != nil {
			continue
		}
		page = append(page, m)
	}
	// fetched newest-first, serve oldest-first
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, rows.Err()
}

// insertMessage persists one message and returns the confirmed copy.
func (s *Server) insertMessage(senderID, receiverID, content string) (*store.Message, error) {
	convID, err := s.ensureConversation(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	m := store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		State:          store.DeliveryConfirmed,
	}
	if m.Sender, err = s.userByID(senderID); err != nil {
		return nil, errors.Wrap(err, "unknown sender")
	}
	if m.Receiver, err = s.userByID(receiverID); err != nil {
		return nil, errors.Wrap(err, "unknown receiver")
	}
	_, err = s.DB.Exec(`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, convID, senderID, receiverID, content, m.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return &m, nil
}

// markRead flips one message read by its receiver. Returns the updated
// message; a second call is a no-op that reports the stored state.
func (s *Server) markRead(messageID, readerID string) (*store.Message, error) {
	now := time.Now().UTC()
	// no-op when already read or not addressed to the reader
	_, err := s.DB.Exec(`UPDATE messages SET is_read=1, read_at=? WHERE id=? AND receiver_id=? AND is_read=0`,
		now, messageID, readerID)
	if err != nil {
		return nil, err
	}
	var m store.Message
	var senderID, receiverID string
	var readAt sql.NullTime
	err = s.DB.QueryRow(`SELECT id, conversation_id, sender_id, receiver_id, content, created_at, is_read, read_at FROM messages WHERE id=?`, messageID).
		Scan(&m.ID, &m.ConversationID, &senderID, &receiverID, &m.Content, &m.CreatedAt, &m.IsRead, &readAt)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		at := readAt.Time
		m.ReadAt = &at
	}
	m.State = store.DeliveryConfirmed
	if m.Sender, err = s.userByID(senderID); err != nil {
		return nil, err
	}
	if m.Receiver, err = s.userByID(receiverID); err != nil {
		return nil, err
	}
	return &m, nil
}

// searchConversations filters by other-participant name or message content.
func (s *Server) searchConversations(userID, query string) ([]store.Conversation, error) {
	all, err := s.listConversations(userID, 100, 0)
	if err != nil {
		return nil, err
	}
	q := "%" + query + "%"
	var out []store.Conversation
	for _, c := range all {
		var match bool
		_ = s.DB.QueryRow(`SELECT EXISTS(
			SELECT 1 FROM users WHERE id=? AND name LIKE ?
			UNION
			SELECT 1 FROM messages WHERE conversation_id=? AND content LIKE ?
		)`, c.Other.ID, q, c.ID, q).Scan(&match)
		if match {
			out = append(out, c)
		}
	}
	return out, nil
}
