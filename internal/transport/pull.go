package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/store"
)

// fetchFailureThreshold is how many consecutive failed poll cycles flip the
// channel to Disconnected. A single success recovers it.
const fetchFailureThreshold = 3

const defaultPageLimit = 50

// PullChannel reconstructs the push channel's events from periodic REST
// snapshots: the conversation list on a session-scoped interval and, for
// each joined conversation, the thread on a faster interval. Downstream
// stores cannot tell it apart from the push channel.
type PullChannel struct {
	api         *api.Client
	self        store.User
	disp        *dispatcher
	listEvery   time.Duration
	threadEvery time.Duration
	log         zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	convs    map[string]convBaseline
	threads  map[string]*threadPoll

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type convBaseline struct {
	lastMessageID string
	unreadCount   int
	otherID       string
}

type threadPoll struct {
	conversationID string
	otherID        string
	known          map[string]bool
	read           map[string]bool
	typing         bool
	primed         bool
	cancel         context.CancelFunc
}

func NewPullChannel(apiClient *api.Client, self store.User, listEvery, threadEvery time.Duration, log zerolog.Logger) *PullChannel {
	if listEvery <= 0 {
		listEvery = 5 * time.Second
	}
	if threadEvery <= 0 {
		threadEvery = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &PullChannel{
		api:         apiClient,
		self:        self,
		disp:        newDispatcher(),
		listEvery:   listEvery,
		threadEvery: threadEvery,
		log:         log.With().Str("component", "pull_channel").Logger(),
		state:       Connected,
		convs:       make(map[string]convBaseline),
		threads:     make(map[string]*threadPoll),
		ctx:         ctx,
		cancel:      cancel,
	}
	p.wg.Add(1)
	go p.listLoop()
	return p
}

func (p *PullChannel) Subscribe(kind EventKind, h Handler) func() {
	return p.disp.subscribe(kind, h)
}

func (p *PullChannel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Send always takes the REST path; the confirmed message is returned and the
// next poll cycle, which will see the same message, is deduplicated by the
// stores' merge rule.
func (p *PullChannel) Send(ctx context.Context, req api.SendRequest) (*store.Message, error) {
	msg, err := p.api.Send(ctx, req)
	if err != nil {
		return nil, errors.Wrap(ErrSendFailed, err.Error())
	}
	p.mu.Lock()
	if tp, ok := p.threads[msg.ConversationID]; ok {
		tp.known[msg.ID] = true
	}
	p.mu.Unlock()
	return msg, nil
}

// JoinConversation starts the per-thread poll.
func (p *PullChannel) JoinConversation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.threads[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	tp := &threadPoll{
		conversationID: id,
		otherID:        p.convs[id].otherID,
		known:          make(map[string]bool),
		read:           make(map[string]bool),
		cancel:         cancel,
	}
	p.threads[id] = tp
	p.wg.Add(1)
	go p.threadLoop(ctx, tp)
}

// LeaveConversation stops the per-thread poll; the session-scoped list poll
// keeps running.
func (p *PullChannel) LeaveConversation(id string) {
	p.mu.Lock()
	tp, ok := p.threads[id]
	if ok {
		delete(p.threads, id)
	}
	p.mu.Unlock()
	if ok {
		tp.cancel()
	}
}

// NotifyTyping has no REST equivalent; typing indicators are a push-only
// luxury and silently degrade in pull mode.
func (p *PullChannel) NotifyTyping(conversationID string, typing bool) {
	p.log.Debug().Str("conversation_id", conversationID).Bool("typing", typing).
		Msg("typing broadcast skipped in pull mode")
}

func (p *PullChannel) MarkRead(ctx context.Context, messageID string) error {
	return p.api.MarkRead(ctx, messageID)
}

func (p *PullChannel) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *PullChannel) listLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.listEvery)
	defer ticker.Stop()
	p.pollList()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollList()
		}
	}
}

// pollList diffs a fresh conversation snapshot against the previous one and
// synthesizes new_message / message_notification events for anything new.
func (p *PullChannel) pollList() {
	ctx, cancel := context.WithTimeout(p.ctx, p.listEvery)
	defer cancel()
	convs, err := p.api.Conversations(ctx, p.self.ID, 1, defaultPageLimit)
	if err != nil {
		p.recordFailure(err)
		return
	}
	p.recordSuccess()

	type emission struct {
		msg    *store.Message
		notify *Notification
	}
	var out []emission

	p.mu.Lock()
	for i := range convs {
		c := convs[i]
		prev, seen := p.convs[c.ID]
		var em emission
		if c.LastMessage != nil && c.LastMessage.ID != prev.lastMessageID {
			m := *c.LastMessage
			em.msg = &m
		}
		if !seen || c.UnreadCount != prev.unreadCount {
			em.notify = &Notification{ConversationID: c.ID, UnreadCount: c.UnreadCount}
		}
		p.convs[c.ID] = convBaseline{
			lastMessageID: lastID(c.LastMessage),
			unreadCount:   c.UnreadCount,
			otherID:       c.Other.ID,
		}
		if tp, ok := p.threads[c.ID]; ok && tp.otherID == "" {
			tp.otherID = c.Other.ID
		}
		if em.msg != nil || em.notify != nil {
			out = append(out, em)
		}
	}
	p.mu.Unlock()

	for _, em := range out {
		if em.msg != nil {
			p.disp.publish(Event{Kind: EventNewMessage, Message: em.msg})
		}
		if em.notify != nil {
			p.disp.publish(Event{Kind: EventMessageNotification, Notification: em.notify})
		}
	}
}

func (p *PullChannel) threadLoop(ctx context.Context, tp *threadPoll) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.threadEvery)
	defer ticker.Stop()
	p.pollThread(ctx, tp)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollThread(ctx, tp)
		}
	}
}

// pollThread diffs the open thread: unseen messages become new_message
// events, read flips on own messages become message_read events, and the
// other participant's typing flag becomes user_typing transitions. The first
// cycle after a join only records the baseline — the caller already holds
// that history, so replaying it would double-count unread messages.
func (p *PullChannel) pollThread(ctx context.Context, tp *threadPoll) {
	p.mu.Lock()
	otherID := tp.otherID
	p.mu.Unlock()
	if otherID == "" {
		return // baseline not fetched yet, next list poll fills it in
	}

	cctx, cancel := context.WithTimeout(ctx, p.threadEvery)
	defer cancel()
	snap, err := p.api.OpenConversation(cctx, p.self.ID, otherID, 1, defaultPageLimit)
	if err != nil {
		p.recordFailure(err)
		return
	}
	p.recordSuccess()

	var events []Event
	p.mu.Lock()
	baseline := !tp.primed
	tp.primed = true
	for i := range snap.Messages {
		m := snap.Messages[i]
		if m.ID == "" {
			continue
		}
		if !tp.known[m.ID] {
			tp.known[m.ID] = true
			if !baseline {
				msg := m
				events = append(events, Event{Kind: EventNewMessage, Message: &msg})
			}
		}
		if m.Sender.ID == p.self.ID && m.IsRead && !tp.read[m.ID] {
			tp.read[m.ID] = true
			if !baseline {
				rr := &ReadReceipt{MessageID: m.ID}
				if m.ReadAt != nil {
					rr.ReadAt = *m.ReadAt
				}
				events = append(events, Event{Kind: EventMessageRead, Read: rr})
			}
		}
	}
	if snap.OtherTyping != tp.typing {
		tp.typing = snap.OtherTyping
		if !baseline {
			events = append(events, Event{Kind: EventTypingChanged, Typing: &TypingChange{
				ConversationID: tp.conversationID,
				UserID:         otherID,
				IsTyping:       snap.OtherTyping,
			}})
		}
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.disp.publish(ev)
	}
}

func (p *PullChannel) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	flip := p.failures >= fetchFailureThreshold && p.state == Connected
	if flip {
		p.state = Disconnected
	}
	p.mu.Unlock()
	p.log.Warn().Err(errors.Wrap(ErrFetchFailed, err.Error())).Msg("poll cycle failed, skipping")
	if flip {
		p.log.Warn().Int("failures", fetchFailureThreshold).Msg("repeated poll failures, reporting disconnected")
	}
}

func (p *PullChannel) recordSuccess() {
	p.mu.Lock()
	p.failures = 0
	if p.state != Connected {
		p.state = Connected
	}
	p.mu.Unlock()
}

func lastID(m *store.Message) string {
	if m == nil {
		return ""
	}
	return m.ID
}
