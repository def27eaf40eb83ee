// Package config loads app.Config from defaults, an optional YAML file, an
// optional .env file and PROCTOR_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/raysh454/proctor/internal/app"
)

// EnvPrefix namespaces environment overrides: server.listen_addr is
// PROCTOR_SERVER_LISTEN_ADDR.
const EnvPrefix = "PROCTOR"

// Load builds the configuration. path may be empty. A .env file in the
// working directory is read when present.
func Load(path string) (*app.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, app.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := app.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalizeKeys(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every scalar the environment may override; viper
// only consults the environment for keys it knows about.
func setDefaults(v *viper.Viper, d *app.Config) {
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.jwt_secret", d.Server.JWTSecret)
	v.SetDefault("server.token_ttl", d.Server.TokenTTL)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.audit_limit", d.Server.AuditLimit)
	v.SetDefault("server.log_request_bodies", d.Server.LogRequestBodies)

	v.SetDefault("ledger.dedup_retention", d.Ledger.DedupRetention)
	v.SetDefault("ledger.key_bucket", d.Ledger.KeyBucket)
	v.SetDefault("ledger.event_buffer", d.Ledger.EventBuffer)
	v.SetDefault("ledger.filter.enabled", d.Ledger.Filter.Enabled)
	v.SetDefault("ledger.filter.min_confidence", d.Ledger.Filter.MinConfidence)
	v.SetDefault("ledger.filter.min_frames", d.Ledger.Filter.MinFrames)

	v.SetDefault("policy.warn_at", d.Policy.WarnAt)
	v.SetDefault("policy.final_warning_at", d.Policy.FinalWarningAt)
	v.SetDefault("policy.strike_cap", d.Policy.StrikeCap)
	v.SetDefault("policy.tab_switch_cap", d.Policy.TabSwitchCap)
	v.SetDefault("policy.freeze_on_critical", d.Policy.FreezeOnCritical)

	v.SetDefault("hub.send_buffer", d.Hub.SendBuffer)
	v.SetDefault("hub.write_timeout", d.Hub.WriteTimeout)
	v.SetDefault("hub.pong_wait", d.Hub.PongWait)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.fallback_to_memory", d.Store.FallbackToMemory)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.redis.ttl", d.Store.Redis.TTL)
	v.SetDefault("store.redis.max_retries", d.Store.Redis.MaxRetries)

	v.SetDefault("agent.queue_path", d.Agent.QueuePath)
	v.SetDefault("agent.confirm.window", d.Agent.Confirm.Window)
	v.SetDefault("agent.confirm.threshold", d.Agent.Confirm.Threshold)
	v.SetDefault("agent.debounce.default", d.Agent.Debounce.Default)
	v.SetDefault("agent.sampler.target_interval", d.Agent.Sampler.TargetInterval)
	v.SetDefault("agent.sampler.min_interval", d.Agent.Sampler.MinInterval)
	v.SetDefault("agent.syncq.flush_interval", d.Agent.SyncQ.Interval)
	v.SetDefault("agent.detect.ip_interval", d.Agent.Detect.IPInterval)
}

// normalizeKeys undoes viper's lower-casing of map keys: kinds and
// severities are upper case on the wire. Keys that arrived lower case came
// from a file or the environment and override the built-in defaults.
func normalizeKeys(cfg *app.Config) {
	if w := cfg.Agent.Debounce.Windows; w != nil {
		cfg.Agent.Debounce.Windows = upperKeys(w)
	}
	if ws := cfg.Ledger.Weights; ws != nil {
		cfg.Ledger.Weights = upperKeys(ws)
	}
}

func upperKeys[K ~string, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		if string(k) == strings.ToUpper(string(k)) {
			out[k] = v
		}
	}
	for k, v := range m {
		if up := strings.ToUpper(string(k)); string(k) != up {
			out[K(up)] = v
		}
	}
	return out
}
