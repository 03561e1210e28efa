package chatui

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rentline/rentchat/internal/store"
)

// ConversationView is the list row the conversation screen renders.
type ConversationView struct {
	ID          string
	Title       string
	AvatarURL   string
	Initials    string
	Preview     string
	Timestamp   string
	UnreadBadge string
}

// MessageView is one bubble in the open thread.
type MessageView struct {
	Message   store.Message
	Mine      bool
	Timestamp string
	Failed    bool
	Pending   bool
}

// Badge renders an unread counter, capping at "99+".
func Badge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

// Initials derives the avatar fallback from a display name: first letters of
// the first two words, uppercased.
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		for _, r := range w {
			out = append(out, unicode.ToUpper(r))
			break
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

// FormatTimestamp buckets a message time the way the list screen shows it:
// clock time today, weekday within the last week, date otherwise.
func FormatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return t.Format("3:04 PM")
	}
	if now.Sub(t) < 7*24*time.Hour && t.Before(now) {
		return t.Format("Monday")
	}
	return t.Format("Jan 2, 2006")
}

func conversationView(c store.Conversation, now time.Time) ConversationView {
	v := ConversationView{
		ID:          c.ID,
		Title:       c.Other.Name,
		AvatarURL:   c.Other.AvatarURL,
		Initials:    Initials(c.Other.Name),
		UnreadBadge: Badge(c.UnreadCount),
	}
	if c.LastMessage != nil {
		v.Preview = c.LastMessage.Content
		v.Timestamp = FormatTimestamp(c.LastMessage.CreatedAt, now)
	}
	return v
}

func messageView(m store.Message, selfID string, now time.Time) MessageView {
	return MessageView{
		Message:   m,
		Mine:      m.Sender.ID == selfID,
		Timestamp: FormatTimestamp(m.CreatedAt, now),
		Failed:    m.State == store.DeliveryFailed,
		Pending:   m.State == store.DeliveryPending,
	}
}
