package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/logging"
)

const redisPingTimeout = 3 * time.Second

// OpenStore builds the ledger store selected by cfg. An unreachable Redis
// falls back to memory when FallbackToMemory is set.
func OpenStore(ctx context.Context, cfg StoreConfig, logger logging.Logger) (ledger.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", StoreMemory:
		logger.Info("ledger store: memory")
		return ledger.NewMemoryStore(), nil

	case StoreSQLite:
		s, err := ledger.OpenSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Info("ledger store: sqlite", logging.Field{Key: "path", Value: cfg.SQLitePath})
		return s, nil

	case StoreRedis:
		s := ledger.NewRedisStore(cfg.Redis, logger)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := s.Ping(pingCtx)
		cancel()
		if err == nil {
			logger.Info("ledger store: redis", logging.Field{Key: "addr", Value: cfg.Redis.Addr})
			return s, nil
		}
		_ = s.Close()
		if !cfg.FallbackToMemory {
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		logger.Warn("redis unavailable, falling back to in-memory ledger",
			logging.Field{Key: "addr", Value: cfg.Redis.Addr}, logging.Err(err))
		return ledger.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
