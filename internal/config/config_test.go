package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/app"
	"github.com/raysh454/proctor/internal/config"
	"github.com/raysh454/proctor/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	def := app.DefaultConfig()
	assert.Equal(t, def.Server.ListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, def.Policy, cfg.Policy)
	assert.Equal(t, 3*time.Second, cfg.Agent.Debounce.Windows[model.KindPhoneDetected])
	assert.Equal(t, app.StoreMemory, cfg.Store.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  listen_addr: ":7070"
  jwt_secret: "s3cret"
policy:
  strike_cap: 6
ledger:
  dedup_retention: 20m
  weights:
    critical: 2
agent:
  debounce:
    windows:
      tab_switch: 4s
store:
  backend: sqlite
  sqlite_path: /tmp/proctor-test.db
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, 6, cfg.Policy.StrikeCap)
	assert.Equal(t, 20*time.Minute, cfg.Ledger.DedupRetention)
	assert.Equal(t, 2, cfg.Ledger.Weights[model.SeverityCritical])
	assert.Equal(t, 4*time.Second, cfg.Agent.Debounce.Windows[model.KindTabSwitch])
	assert.Equal(t, 3*time.Second, cfg.Agent.Debounce.Windows[model.KindPhoneDetected], "untouched kinds keep their default")
	assert.Equal(t, app.StoreSQLite, cfg.Store.Backend)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeFile(t, "server:\n  listen_addr: \":7070\"\n")
	t.Setenv("PROCTOR_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("PROCTOR_POLICY_TAB_SWITCH_CAP", "5")
	t.Setenv("PROCTOR_LEDGER_DEDUP_RETENTION", "90s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 5, cfg.Policy.TabSwitchCap)
	assert.Equal(t, 90*time.Second, cfg.Ledger.DedupRetention)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "store:\n  backend: etcd\n"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "policy:\n  warn_at: 9\n  strike_cap: 5\n"))
	assert.Error(t, err, "warn threshold above the cap is rejected")
}
