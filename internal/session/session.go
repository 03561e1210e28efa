// Package session owns the per-login context: the signed-in identity, the
// REST client, the single active transport channel, and the conversation
// index. It replaces ambient singletons with an explicit object created on
// login and torn down on logout.
package session

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/auth"
	"github.com/rentline/rentchat/internal/config"
	"github.com/rentline/rentchat/internal/store"
	"github.com/rentline/rentchat/internal/transport"
)

type Session struct {
	Identity auth.Identity
	API      *api.Client
	Channel  transport.Channel
	Index    *store.ConversationIndex
	Log      zerolog.Logger

	cfg    config.Config
	unsubs []func()
}

// Open authenticates the token, selects the transport for the whole session,
// loads the initial conversation snapshot, and wires the index to the
// channel. The returned session must be Closed on logout.
func Open(ctx context.Context, cfg config.Config, token string, log zerolog.Logger) (*Session, error) {
	ident, err := auth.IdentityFromToken(token)
	if err != nil {
		return nil, err
	}

	apiClient := api.NewClient(cfg.APIBaseURL, auth.StaticToken(token), log)
	self := store.User{ID: ident.ID, Name: ident.Name}

	ch := transport.Select(ctx, transport.Options{
		PushEnabled:        cfg.PushEnabled,
		WSURL:              cfg.WSURL,
		Token:              token,
		ListPollInterval:   cfg.ListPollInterval(),
		ThreadPollInterval: cfg.ThreadPollInterval(),
	}, apiClient, self, log)

	s := &Session{
		Identity: ident,
		API:      apiClient,
		Channel:  ch,
		Index:    store.NewConversationIndex(ident.ID, log),
		Log:      log.With().Str("component", "session").Str("user_id", ident.ID).Logger(),
		cfg:      cfg,
	}

	convs, err := apiClient.Conversations(ctx, ident.ID, 1, 50)
	if err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "load conversation index")
	}
	s.Index.Load(convs)

	// Session-scoped merges: every delivered message and unread update
	// lands in the index no matter which screen is open.
	s.unsubs = append(s.unsubs,
		ch.Subscribe(transport.EventNewMessage, func(ev transport.Event) {
			s.Index.ApplyNewMessage(*ev.Message)
		}),
		ch.Subscribe(transport.EventMessageNotification, func(ev transport.Event) {
			s.Index.ApplyReadReceipt(ev.Notification.ConversationID, ev.Notification.UnreadCount)
		}),
	)

	s.Log.Info().Str("transport", ch.State().String()).Msg("session opened")
	return s, nil
}

func (s *Session) Self() store.User {
	return store.User{ID: s.Identity.ID, Name: s.Identity.Name}
}

func (s *Session) Config() config.Config { return s.cfg }

// Close tears the session down: subscriptions first, then the channel (which
// stops pollers and the socket). Chat state is discarded with the session.
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if err := s.Channel.Close(); err != nil {
		s.Log.Warn().Err(err).Msg("channel close")
	}
	s.Log.Info().Msg("session closed")
}
