package webclient

import "time"

// Config describes how the student client reaches the proctoring server.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080. WebSocket
	// URLs are derived from it by switching the scheme.
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string `mapstructure:"auth_token"`
	UserAgent string `mapstructure:"user_agent"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8080",
		Timeout:   10 * time.Second,
		UserAgent: "proctor-client/0.1",
	}
}
