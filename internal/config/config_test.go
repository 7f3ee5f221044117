package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
bot:
  id: bot-1
  symbol: BTC/USDT:USDT
  exchange: binance
record:
  base_url: https://example.supabase.co
  service_key: service-key
  runtime_token: runtime-token
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "standard", cfg.Health.Tier)
	assert.Equal(t, 15, cfg.Health.WindowMinutes)
	assert.Equal(t, 3.0, cfg.Health.DebounceSeconds)
	assert.Equal(t, 1.0, cfg.Health.CriticalDelaySeconds)
	assert.Equal(t, 300, cfg.Reconcile.IntervalSeconds)
	assert.Equal(t, 0.5, cfg.Reconcile.QtyTolerancePct)
	assert.Equal(t, 3, cfg.Journal.RetryAttempts)
	assert.Equal(t, ":8433", cfg.Server.Addr)
	assert.Equal(t, "data/keel_events.db", cfg.Store.EventLogPath)
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
health:
  tier: fast_5s
  debounce_seconds: 2.5
reconcile:
  interval_seconds: 120
  qty_tolerance_pct: 1.0
`))
	require.NoError(t, err)

	assert.Equal(t, "fast_5s", cfg.Health.Tier)
	assert.Equal(t, 2.5, cfg.Health.DebounceSeconds)
	assert.Equal(t, 120, cfg.Reconcile.IntervalSeconds)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.Interval())
	assert.Equal(t, 1.0, cfg.Reconcile.QtyTolerancePct)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing bot id", `
bot:
  symbol: BTC/USDT:USDT
record:
  base_url: https://x
  service_key: k
  runtime_token: t
`},
		{"missing record credentials", `
bot:
  id: bot-1
  symbol: BTC/USDT:USDT
record:
  base_url: https://x
`},
		{"unknown tier", minimalConfig + `
health:
  tier: warp_speed
`},
		{"telegram enabled without token", minimalConfig + `
notify:
  telegram:
    enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	h := HealthConfig{WindowMinutes: 15, DebounceSeconds: 3, CriticalDelaySeconds: 1}
	assert.Equal(t, 15*time.Minute, h.Window())
	assert.Equal(t, 3*time.Second, h.Debounce())
	assert.Equal(t, time.Second, h.CriticalDelay())

	j := JournalConfig{RetryBaseMS: 500, RetryMaxMS: 8000, BreakCooldownS: 60}
	assert.Equal(t, 500*time.Millisecond, j.RetryBase())
	assert.Equal(t, 8*time.Second, j.RetryMax())
	assert.Equal(t, time.Minute, j.BreakCooldown())
}
