package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL string
	WSURL      string

	// PushEnabled turns the push transport probe on; when false every
	// session runs in pull mode.
	PushEnabled bool

	ListPollSec   int
	ThreadPollSec int

	TypingIdleMs    int
	TypingExpirySec int

	// Dev harness knobs.
	Addr      string
	JWTSecret string
	JWTTTLMin int
	SQLITEDsn string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getbool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func MustLoad() Config {
	cfg := Config{
		APIBaseURL:      getenv("API_BASE_URL", "http://localhost:8080"),
		WSURL:           getenv("WS_URL", "ws://localhost:8080/ws"),
		PushEnabled:     getbool("PUSH_ENABLED", true),
		ListPollSec:     getint("LIST_POLL_SEC", 5),
		ThreadPollSec:   getint("THREAD_POLL_SEC", 3),
		TypingIdleMs:    getint("TYPING_IDLE_MS", 1000),
		TypingExpirySec: getint("TYPING_EXPIRY_SEC", 5),
		Addr:            getenv("HTTP_ADDR", ":8080"),
		JWTSecret:       getenv("JWT_SECRET", "dev-secret"),
		JWTTTLMin:       getint("JWT_TTL_MIN", 1440),
		SQLITEDsn:       getenv("SQLITE_DSN", "file:rentchat.db?_pragma=foreign_keys(ON)"),
	}
	return cfg
}

func (c Config) ListPollInterval() time.Duration   { return time.Duration(c.ListPollSec) * time.Second }
func (c Config) ThreadPollInterval() time.Duration { return time.Duration(c.ThreadPollSec) * time.Second }
func (c Config) TypingIdle() time.Duration         { return time.Duration(c.TypingIdleMs) * time.Millisecond }
func (c Config) TypingExpiry() time.Duration       { return time.Duration(c.TypingExpirySec) * time.Second }
