// Package chatui is the thin orchestration layer behind the two chat
// screens: the conversation list and the open thread. It translates user
// actions into store and transport calls and derives the view data the
// screens render.
package chatui

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/session"
	"github.com/rentline/rentchat/internal/store"
	"github.com/rentline/rentchat/internal/transport"
	"github.com/rentline/rentchat/internal/typing"
)

type Facade struct {
	sess *session.Session
	now  func() time.Time
}

func NewFacade(sess *session.Session) *Facade {
	return &Facade{sess: sess, now: time.Now}
}

// Conversations renders the list screen from the index.
func (f *Facade) Conversations() []ConversationView {
	return f.views(f.sess.Index.Conversations())
}

// Search filters the list screen without touching the index.
func (f *Facade) Search(query string) []ConversationView {
	return f.views(f.sess.Index.Search(query))
}

func (f *Facade) views(convs []store.Conversation) []ConversationView {
	now := f.now()
	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationView(c, now))
	}
	return out
}

// OpenThread resolves the conversation with the other user, loads its recent
// history, joins it on the transport, and wires the thread store and typing
// state to the channel. Close the returned Thread when navigating away.
func (f *Facade) OpenThread(ctx context.Context, otherID string) (*Thread, error) {
	sess := f.sess
	snap, err := sess.API.OpenConversation(ctx, sess.Identity.ID, otherID, 1, 50)
	if err != nil {
		return nil, errors.Wrap(err, "open thread")
	}

	st := store.NewMessageThread(snap.ConversationID, sess.Self(), snap.OtherUser, snap.Messages, sess.Log)
	t := &Thread{
		facade:  f,
		store:   st,
		watcher: typing.NewWatcher(sess.Config().TypingExpiry(), nil),
		signal:  typing.NewSignal(snap.ConversationID, sess.Channel, sess.Config().TypingIdle()),
	}

	ch := sess.Channel
	convID := snap.ConversationID
	t.unsubs = append(t.unsubs,
		ch.Subscribe(transport.EventNewMessage, func(ev transport.Event) {
			if ev.Message.ConversationID == convID {
				st.Reconcile(*ev.Message)
			}
		}),
		ch.Subscribe(transport.EventMessageRead, func(ev transport.Event) {
			st.ApplyReadReceipt(ev.Read.MessageID, ev.Read.ReadAt)
		}),
		ch.Subscribe(transport.EventTypingChanged, func(ev transport.Event) {
			if ev.Typing.ConversationID == convID {
				t.watcher.Apply(convID, ev.Typing.IsTyping)
			}
		}),
	)
	ch.JoinConversation(convID)
	if snap.OtherTyping {
		t.watcher.Apply(convID, true)
	}
	return t, nil
}

// Thread is the controller behind one open conversation screen.
type Thread struct {
	facade  *Facade
	store   *store.MessageThread
	watcher *typing.Watcher
	signal  *typing.Signal
	unsubs  []func()
}

func (t *Thread) ConversationID() string { return t.store.ConversationID() }
func (t *Thread) Other() store.User      { return t.store.Other() }

// Messages renders the thread in display order.
func (t *Thread) Messages() []MessageView {
	now := t.facade.now()
	selfID := t.facade.sess.Identity.ID
	msgs := t.store.Messages()
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m, selfID, now))
	}
	return out
}

// OtherTyping reports whether the typing indicator should show.
func (t *Thread) OtherTyping() bool {
	return t.watcher.IsTyping(t.store.ConversationID())
}

// Keystroke forwards a composer keypress to the debounced typing signal.
func (t *Thread) Keystroke() {
	t.signal.Keystroke()
}

// Send appends the optimistic copy, silences the typing signal, and pushes
// the message through the channel. On failure the copy is marked failed and
// left in place for a manual retry; there is no automatic retry.
func (t *Thread) Send(ctx context.Context, content string) (store.Message, error) {
	sess := t.facade.sess
	provisional := t.store.AppendOptimistic(content)
	t.signal.MessageSent()

	confirmed, err := sess.Channel.Send(ctx, api.SendRequest{
		SenderID:   sess.Identity.ID,
		ReceiverID: t.store.Other().ID,
		Content:    content,
	})
	if err != nil {
		t.store.MarkFailed(provisional.ProvisionalID)
		m, _ := t.store.ByProvisionalID(provisional.ProvisionalID)
		return m, err
	}
	if confirmed != nil {
		confirmed.ProvisionalID = provisional.ProvisionalID
		t.store.Reconcile(*confirmed)
		sess.Index.ApplyNewMessage(*confirmed)
		return *confirmed, nil
	}
	// Push path: confirmation arrives later as a new_message echo.
	return provisional, nil
}

// RetrySend re-sends a failed message, reusing its provisional id so the
// confirmation still reconciles onto the same bubble.
func (t *Thread) RetrySend(ctx context.Context, provisionalID string) (store.Message, error) {
	if !t.store.MarkPending(provisionalID) {
		return store.Message{}, errors.New("no failed message to retry")
	}
	m, _ := t.store.ByProvisionalID(provisionalID)
	sess := t.facade.sess

	confirmed, err := sess.Channel.Send(ctx, api.SendRequest{
		SenderID:   sess.Identity.ID,
		ReceiverID: t.store.Other().ID,
		Content:    m.Content,
	})
	if err != nil {
		t.store.MarkFailed(provisionalID)
		failed, _ := t.store.ByProvisionalID(provisionalID)
		return failed, err
	}
	if confirmed != nil {
		confirmed.ProvisionalID = provisionalID
		t.store.Reconcile(*confirmed)
		sess.Index.ApplyNewMessage(*confirmed)
		return *confirmed, nil
	}
	return m, nil
}

// MarkVisibleAsRead flips every unread inbound message and emits one read
// receipt per flipped message. Idempotent; the second call sends nothing.
func (t *Thread) MarkVisibleAsRead(ctx context.Context) {
	sess := t.facade.sess
	flipped := t.store.MarkVisibleAsRead()
	for _, id := range flipped {
		if err := sess.Channel.MarkRead(ctx, id); err != nil {
			sess.Log.Warn().Err(err).Str("message_id", id).Msg("read receipt send failed")
		}
	}
	if len(flipped) > 0 {
		sess.Index.ApplyReadReceipt(t.store.ConversationID(), 0)
	}
}

// Close tears the screen down: unsubscribes the handlers, leaves the
// conversation (which stops the pull channel's thread poll), and releases
// the typing timers. The session-scoped list poll keeps running.
func (t *Thread) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
	t.signal.Stop()
	t.watcher.Close()
	t.facade.sess.Channel.LeaveConversation(t.store.ConversationID())
}
