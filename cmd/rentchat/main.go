// rentchat is a debugging client: it opens a session with a bearer token,
// prints the conversation list, and tails live events from whichever
// transport the session selected.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/chatui"
	"github.com/rentline/rentchat/internal/config"
	"github.com/rentline/rentchat/internal/session"
	"github.com/rentline/rentchat/internal/transport"
)

func main() {
	token := flag.String("token", "", "session JWT (defaults to $CHAT_TOKEN)")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file, using process env")
	}
	cfg := config.MustLoad()

	if *token == "" {
		*token = os.Getenv("CHAT_TOKEN")
	}
	if *token == "" {
		log.Fatal().Msg("no session token: pass -token or set CHAT_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.Open(ctx, cfg, *token, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open session")
	}
	defer sess.Close()

	ui := chatui.NewFacade(sess)
	log.Info().Int("unread_total", sess.Index.Unread()).Msg("conversation list loaded")
	for _, c := range ui.Conversations() {
		log.Info().
			Str("conversation", c.ID).
			Str("with", c.Title).
			Str("preview", c.Preview).
			Str("unread", c.UnreadBadge).
			Msg("conversation")
	}

	unsubs := []func(){
		sess.Channel.Subscribe(transport.EventNewMessage, func(ev transport.Event) {
			log.Info().
				Str("from", ev.Message.Sender.Name).
				Str("content", ev.Message.Content).
				Msg("new message")
		}),
		sess.Channel.Subscribe(transport.EventTypingChanged, func(ev transport.Event) {
			log.Info().
				Str("conversation", ev.Typing.ConversationID).
				Bool("typing", ev.Typing.IsTyping).
				Msg("typing")
		}),
		sess.Channel.Subscribe(transport.EventMessageRead, func(ev transport.Event) {
			log.Info().Str("message", ev.Read.MessageID).Msg("read by peer")
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
}
