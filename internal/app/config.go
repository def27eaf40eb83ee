package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raysh454/proctor/internal/agent"
	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/server"
)

// Store backends for the strike ledger.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type LogConfig struct {
	// Format is "zap" (production JSON via zap) or "json" (StdoutLogger).
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// SQLitePath is used by the sqlite backend.
	SQLitePath string             `mapstructure:"sqlite_path"`
	Redis      ledger.RedisConfig `mapstructure:"redis"`
	// FallbackToMemory keeps the server up on an in-process store when
	// Redis cannot be reached at startup.
	FallbackToMemory bool `mapstructure:"fallback_to_memory"`
}

// Config is the whole runtime configuration. The server half is used by
// proctord, the Agent half by clients such as simstudent.
type Config struct {
	Log    LogConfig     `mapstructure:"log"`
	Server server.Config `mapstructure:"server"`
	Ledger ledger.Config `mapstructure:"ledger"`
	Policy policy.Config `mapstructure:"policy"`
	Hub    hub.Config    `mapstructure:"hub"`
	Store  StoreConfig   `mapstructure:"store"`
	Agent  agent.Config  `mapstructure:"agent"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Log:    LogConfig{Format: "zap", Level: "info"},
		Server: server.DefaultConfig(),
		Ledger: ledger.DefaultConfig(),
		Policy: policy.DefaultConfig(),
		Hub:    hub.DefaultConfig(),
		Store: StoreConfig{
			Backend:          StoreMemory,
			SQLitePath:       "proctor.db",
			Redis:            ledger.DefaultRedisConfig(),
			FallbackToMemory: true,
		},
		Agent: agent.DefaultConfig(),
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Store.Backend) {
	case StoreMemory, StoreRedis:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store: sqlite backend needs sqlite_path")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if c.Ledger.Filter.MinConfidence < 0 || c.Ledger.Filter.MinConfidence > 1 {
		return errors.New("ledger: filter min_confidence must be in [0,1]")
	}
	return nil
}
