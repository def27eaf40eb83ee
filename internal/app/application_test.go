package app_test

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/app"
	"github.com/raysh454/proctor/internal/cli"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/testutil"
)

// ─── Config ────────────────────────────────────────────────────────────

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, app.DefaultConfig().Validate())

	cfg := app.DefaultConfig()
	cfg.Store.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = app.DefaultConfig()
	cfg.Store.Backend = app.StoreSQLite
	cfg.Store.SQLitePath = " "
	assert.Error(t, cfg.Validate())

	cfg = app.DefaultConfig()
	cfg.Ledger.Filter.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())
}

func TestConfig_ApplyArgs(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.ApplyArgs(&cli.CLIArgs{ListenAddr: ":9999", StoreBackend: "sqlite", LogLevel: "debug"})

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, app.StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "zap", cfg.Log.Format, "unset flags keep loaded values")
}

// ─── Store selection ───────────────────────────────────────────────────

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()
	s, err := app.OpenStore(context.Background(), app.StoreConfig{Backend: app.StoreMemory}, &testutil.DummyLogger{})
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryStore{}, s)
	require.NoError(t, s.Close())
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := app.OpenStore(context.Background(), app.StoreConfig{Backend: app.StoreSQLite, SQLitePath: path}, &testutil.DummyLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenStore_RedisFallback(t *testing.T) {
	t.Parallel()
	cfg := app.StoreConfig{Backend: app.StoreRedis, Redis: ledger.DefaultRedisConfig(), FallbackToMemory: true}
	cfg.Redis.Addr = "127.0.0.1:1"

	s, err := app.OpenStore(context.Background(), cfg, &testutil.DummyLogger{})
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryStore{}, s)

	cfg.FallbackToMemory = false
	_, err = app.OpenStore(context.Background(), cfg, &testutil.DummyLogger{})
	assert.Error(t, err)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := app.OpenStore(context.Background(), app.StoreConfig{Backend: "etcd"}, &testutil.DummyLogger{})
	assert.Error(t, err)
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

func TestApplication_StartServeShutdown(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	a, err := app.NewApplication(context.Background(), cfg, nil, &testutil.DummyLogger{})
	require.NoError(t, err)
	require.NoError(t, a.Start())

	waitErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { waitErr <- a.Wait(ctx) }()

	body := strings.NewReader(`{"examId":"midterm","studentId":"stu-1"}`)
	resp, err := http.Post("http://"+a.Addr()+api.PathSessions, "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}

	require.NoError(t, a.Shutdown(context.Background()))
	assert.NoError(t, a.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.Store.Backend = "etcd"
	_, err := app.NewApplication(context.Background(), cfg, nil, &testutil.DummyLogger{})
	assert.Error(t, err)
}
