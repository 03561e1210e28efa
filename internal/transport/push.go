package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// PushChannel is the duplex event source: a long-lived websocket the server
// pushes events through. It re-dials with capped backoff after a drop and
// re-joins every previously joined conversation. It does not buffer events
// missed while down; the pull fallback covers that gap at the product level.
type PushChannel struct {
	wsURL string
	token string
	api   *api.Client
	disp  *dispatcher
	log   zerolog.Logger

	out chan envelope

	mu     sync.Mutex
	state  State
	joined map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialPush probes the push capability by establishing the websocket. A
// failed initial dial returns ErrTransportUnavailable so the caller can fall
// back to the pull channel for the whole session.
func DialPush(ctx context.Context, wsURL, token string, apiClient *api.Client, log zerolog.Logger) (*PushChannel, error) {
	conn, err := dialOnce(ctx, wsURL, token)
	if err != nil {
		return nil, errors.Wrap(ErrTransportUnavailable, err.Error())
	}

	cctx, cancel := context.WithCancel(context.Background())
	p := &PushChannel{
		wsURL:  wsURL,
		token:  token,
		api:    apiClient,
		disp:   newDispatcher(),
		log:    log.With().Str("component", "push_channel").Logger(),
		out:    make(chan envelope, 64),
		state:  Connected,
		joined: make(map[string]struct{}),
		ctx:    cctx,
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.run(conn)
	return p, nil
}

func dialOnce(ctx context.Context, wsURL, token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, _, err := dialer.DialContext(ctx, wsURL, hdr)
	return conn, err
}

func (p *PushChannel) Subscribe(kind EventKind, h Handler) func() {
	return p.disp.subscribe(kind, h)
}

func (p *PushChannel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PushChannel) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Send pushes the message over the socket when connected; confirmation then
// arrives as a new_message echo. When the socket is down at send time it
// falls back to POST /chat/send and returns the confirmed copy directly.
func (p *PushChannel) Send(ctx context.Context, req api.SendRequest) (*store.Message, error) {
	if p.State() == Connected {
		env := envelope{
			Type:       actionSend,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Content:    req.Content,
		}
		select {
		case p.out <- env:
			return nil, nil
		default:
			// writer backlogged, treat like a down socket
		}
	}
	msg, err := p.api.Send(ctx, req)
	if err != nil {
		return nil, errors.Wrap(ErrSendFailed, err.Error())
	}
	return msg, nil
}

func (p *PushChannel) JoinConversation(id string) {
	p.mu.Lock()
	p.joined[id] = struct{}{}
	p.mu.Unlock()
	p.enqueue(envelope{Type: actionJoin, ConversationID: id})
}

func (p *PushChannel) LeaveConversation(id string) {
	p.mu.Lock()
	delete(p.joined, id)
	p.mu.Unlock()
	p.enqueue(envelope{Type: actionLeave, ConversationID: id})
}

func (p *PushChannel) NotifyTyping(conversationID string, typing bool) {
	t := actionTypeStop
	if typing {
		t = actionTypeStart
	}
	p.enqueue(envelope{Type: t, ConversationID: conversationID})
}

func (p *PushChannel) MarkRead(ctx context.Context, messageID string) error {
	if p.State() == Connected {
		p.enqueue(envelope{Type: actionMarkRead, MessageID: messageID})
		return nil
	}
	if err := p.api.MarkRead(ctx, messageID); err != nil {
		return errors.Wrap(err, "mark read over rest")
	}
	return nil
}

func (p *PushChannel) enqueue(env envelope) {
	select {
	case p.out <- env:
	default:
		p.log.Warn().Str("type", env.Type).Msg("dropping outbound action, writer backlogged")
	}
}

func (p *PushChannel) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

// run owns the connection lifecycle: pump the current socket, then re-dial
// with backoff until the channel is closed.
func (p *PushChannel) run(conn *websocket.Conn) {
	defer p.wg.Done()
	backoff := reconnectMin
	for {
		p.setState(Connected)
		p.rejoin()
		p.serve(conn)
		p.setState(Disconnected)
		if p.ctx.Err() != nil {
			return
		}
		p.log.Warn().Dur("retry_in", backoff).Msg("push connection lost, reconnecting")

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			var err error
			conn, err = dialOnce(p.ctx, p.wsURL, p.token)
			if err == nil {
				backoff = reconnectMin
				break
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("push re-dial failed")
		}
	}
}

// rejoin replays join_conversation for everything joined before a drop.
func (p *PushChannel) rejoin() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.joined))
	for id := range p.joined {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.enqueue(envelope{Type: actionJoin, ConversationID: id})
	}
}

// serve runs the read and write pumps for one connection and returns when
// either side fails or the channel is closed.
func (p *PushChannel) serve(conn *websocket.Conn) {
	done := make(chan struct{})
	go p.writePump(conn, done)
	p.readPump(conn)
	close(done)
	conn.Close()
}

func (p *PushChannel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			p.log.Warn().Err(err).Msg("unparseable push frame")
			continue
		}
		if ev, ok := eventFromEnvelope(env); ok {
			p.disp.publish(ev)
		}
	}
}

func (p *PushChannel) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-p.out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-p.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
	}
}

func eventFromEnvelope(env envelope) (Event, bool) {
	switch EventKind(env.Type) {
	case EventNewMessage:
		if env.Message == nil {
			return Event{}, false
		}
		return Event{Kind: EventNewMessage, Message: env.Message}, true
	case EventMessageNotification:
		return Event{Kind: EventMessageNotification, Notification: &Notification{
			ConversationID: env.ConversationID,
			UnreadCount:    env.UnreadCount,
		}}, true
	case EventTypingChanged:
		return Event{Kind: EventTypingChanged, Typing: &TypingChange{
			ConversationID: env.ConversationID,
			UserID:         env.UserID,
			IsTyping:       env.IsTyping,
		}}, true
	case EventMessageRead:
		ev := Event{Kind: EventMessageRead, Read: &ReadReceipt{MessageID: env.MessageID}}
		if env.ReadAt != nil {
			ev.Read.ReadAt = *env.ReadAt
		}
		return ev, true
	}
	return Event{}, false
}
