package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/store"
)

// Options configures transport selection at session start.
type Options struct {
	// PushEnabled gates the capability probe; operations can turn the push
	// transport off entirely, forcing pull mode for every session.
	PushEnabled bool
	WSURL       string
	Token       string

	ListPollInterval   time.Duration
	ThreadPollInterval time.Duration
}

// Select picks the session's channel: it probes the push capability once and
// falls back to the pull channel for the entire session when the probe fails
// or push is administratively disabled. The transport is not renegotiated
// mid-session.
func Select(ctx context.Context, opts Options, apiClient *api.Client, self store.User, log zerolog.Logger) Channel {
	if opts.PushEnabled {
		ch, err := DialPush(ctx, opts.WSURL, opts.Token, apiClient, log)
		if err == nil {
			log.Info().Str("transport", "push").Msg("transport selected")
			return ch
		}
		log.Warn().Err(err).Msg("push capability probe failed, using pull transport")
	} else {
		log.Info().Msg("push transport disabled by configuration")
	}
	ch := NewPullChannel(apiClient, self, opts.ListPollInterval, opts.ThreadPollInterval, log)
	log.Info().Str("transport", "pull").Msg("transport selected")
	return ch
}
