package server

import (
	"time"

	"github.com/raysh454/proctor/internal/logging"
)

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string `mapstructure:"listen_addr"`

	// JWTSecret signs moderator tokens (HS256). Moderator routes reject
	// every request while it is empty.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// RateLimit is the sustained number of violation reports per second
	// accepted from one session; RateBurst allows short spikes.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// AuditLimit caps GET /violations responses.
	AuditLimit int `mapstructure:"audit_limit"`

	LogRequestBodies bool `mapstructure:"log_request_bodies"`

	Logger logging.Logger `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		TokenTTL:   12 * time.Hour,
		RateLimit:  5,
		RateBurst:  20,
		AuditLimit: 200,
	}
}
