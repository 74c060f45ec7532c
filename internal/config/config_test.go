package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Strategy.SwingLookback)
	assert.Equal(t, 50, cfg.Strategy.OBLookback)
	assert.Equal(t, 2.5, cfg.Strategy.RiskRewardRatio)
	assert.Equal(t, 8.0, cfg.Strategy.Pro.Strong)
	assert.Equal(t, 5.0, cfg.Strategy.MTF.MinScore)
	assert.Equal(t, "15m", cfg.Timeframes.Entry)
	assert.Equal(t, 0.02, cfg.Risk.RiskPerTrade)
	assert.Equal(t, 4, cfg.Risk.CooldownLosses)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialBalance)
	assert.Equal(t, 0.0006, cfg.Backtest.Commission)
	assert.Equal(t, 50, cfg.Backtest.Warmup)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, ":8080", cfg.API.ListenAddress)
	assert.Len(t, cfg.Presets, 3)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
app:
  logLevel: debug
strategy:
  riskRewardRatio: 3
exchange:
  symbol: ETHUSDT
  fallback: [influx, csv]
cache:
  backend: redis
  redisAddress: localhost:6379
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 3.0, cfg.Strategy.RiskRewardRatio)
	assert.Equal(t, 10, cfg.Strategy.SwingLookback)
	assert.Equal(t, "ETHUSDT", cfg.Exchange.Symbol)
	assert.Equal(t, []string{"influx", "csv"}, cfg.Exchange.Fallback)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"log level":   "app:\n  logLevel: loud\n",
		"risk":        "risk:\n  riskPerTrade: 1.5\n",
		"fallback":    "exchange:\n  fallback: [ftp]\n",
		"cache":       "cache:\n  backend: disk\n",
		"bad yaml":    "app: [",
		"ob lookback": "strategy:\n  obLookback: 2\n",
		"sniper min":  "strategy:\n  mtf:\n    sniperMin: 2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestBacktestWindow(t *testing.T) {
	assert.Equal(t, 500, Default().Backtest.MaxWindow)

	cfg, err := Parse([]byte("backtest:\n  maxWindow: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Backtest.MaxWindow)
}

func TestApplyPreset(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyPreset("scalp"))
	assert.Equal(t, 1.5, cfg.Strategy.RiskRewardRatio)
	assert.Equal(t, 5, cfg.Strategy.SwingLookback)
	assert.Equal(t, 30, cfg.Strategy.OBLookback)
	assert.Equal(t, 0.0008, cfg.Backtest.Commission)
	assert.Equal(t, 0.0003, cfg.Backtest.Slippage)

	cfg = Default()
	require.NoError(t, cfg.ApplyPreset("intraday"))
	assert.Equal(t, Default().Strategy, cfg.Strategy)

	assert.Error(t, cfg.ApplyPreset("hodl"))
}

func TestCloneIsolated(t *testing.T) {
	cfg := Default()
	cfg.Exchange.Fallback = []string{"csv"}
	c := cfg.Clone()
	c.Strategy.SwingLookback = 99
	c.Presets["scalp"] = Preset{}
	c.Exchange.Fallback[0] = "influx"

	assert.Equal(t, 10, cfg.Strategy.SwingLookback)
	assert.Equal(t, 1.5, cfg.Presets["scalp"].RiskRewardRatio)
	assert.Equal(t, "csv", cfg.Exchange.Fallback[0])
}

func TestLoadExampleFile(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "config", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("example config not present")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Exchange.Symbol)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
