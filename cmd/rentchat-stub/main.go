package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/config"
	"github.com/rentline/rentchat/internal/devserver"
)

func main() {
	seed := flag.Bool("seed", false, "create two demo users and exit")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file, using process env")
	}
	cfg := config.MustLoad()

	db, err := devserver.OpenDB(cfg.SQLITEDsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := devserver.Ping(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("database unreachable")
	}

	srv := devserver.New(db, cfg.JWTSecret, time.Duration(cfg.JWTTTLMin)*time.Minute, log)

	if *seed {
		for _, u := range [][3]string{
			{"alice", "Alice Landlord", "password"},
			{"bob", "Bob Tenant", "password"},
		} {
			id, err := srv.CreateUser(u[0], u[1], u[2])
			if err != nil {
				log.Fatal().Err(err).Str("username", u[0]).Msg("seed user")
			}
			log.Info().Str("username", u[0]).Str("id", id).Msg("seeded user")
		}
		os.Exit(0)
	}

	log.Info().Str("addr", cfg.Addr).Msg("dev harness listening")
	if err := srv.Router().Run(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
