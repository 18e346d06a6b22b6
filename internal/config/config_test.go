package config

import (
	"os"
	"path/filepath"
	"testing"

	"riskgate/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
trading:
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
  max_daily_loss_usd: 120
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.5
  health_flatten_floor: 2.0
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
providers:
  binance:
    symbols: ["BTCUSDT"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.InDelta(t, 415, cfg.Limits.MaxNotionalUSD, 1e-9)
	assert.InDelta(t, 55, cfg.Guards.CrowdedShortPct, 1e-9)
	assert.True(t, cfg.Trading.Enabled, "trading defaults on when unset")

	// Non-critical fields get defaults.
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 300, cfg.Providers.Refresh.DerivativesSeconds)
	assert.InDelta(t, 0.75, cfg.Guards.FundingSizeFactor, 1e-9)
	assert.Equal(t, "utc", cfg.Session.DayBoundary)
}

func TestLoadRejectsMissingCriticalThreshold(t *testing.T) {
	// Drop max_daily_loss_usd: the load must fail rather than default it.
	body := `
trading:
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.5
  health_flatten_floor: 2.0
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
providers:
  binance:
    symbols: ["BTCUSDT"]
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.ErrorIs(t, err, risk.ErrConfigLoad)
	assert.Contains(t, err.Error(), "max_daily_loss_usd")
}

func TestLoadKeepsExplicitTradingDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
trading:
  enabled: false
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
  max_daily_loss_usd: 120
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.5
  health_flatten_floor: 2.0
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
providers:
  binance:
    symbols: ["BTCUSDT"]
`))
	require.NoError(t, err)
	assert.False(t, cfg.Trading.Enabled, "explicit false must not be overwritten by the default")
}

func TestLoadRejectsOutOfRangeBoost(t *testing.T) {
	full := `
trading:
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
  max_daily_loss_usd: 120
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.5
  health_flatten_floor: 2.0
  consensus_boost: 1.5
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
providers:
  binance:
    symbols: ["BTCUSDT"]
`
	_, err := Load(writeConfig(t, full))
	require.Error(t, err)
	assert.ErrorIs(t, err, risk.ErrConfigLoad)
	assert.Contains(t, err.Error(), "consensus_boost")
}

func TestLoadRejectsFlattenFloorAboveEntryFloor(t *testing.T) {
	full := `
trading:
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
  max_daily_loss_usd: 120
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.0
  health_flatten_floor: 2.5
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
providers:
  binance:
    symbols: ["BTCUSDT"]
`
	_, err := Load(writeConfig(t, full))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health_flatten_floor")
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	full := `
trading:
  working_capital_usd: 5000
limits:
  max_notional_usd: 415
  max_stop_loss_bps: 250
  max_concurrent_trades: 3
  max_daily_loss_usd: 120
guards:
  crowded_long_pct: 55
  crowded_short_pct: 55
  funding_bias_max_bps: 15
  oi_spike_ratio: 0.25
macro:
  health_entry_floor: 2.5
  health_flatten_floor: 2.0
killswitch:
  max_session_drawdown_pct: 8
  max_consecutive_losses: 3
  health_critical_floor: 1.5
`
	_, err := Load(writeConfig(t, full))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, risk.ErrConfigLoad)
}

func TestLoadOverridesValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guards:
  crowded_long_pct: 60
  crowded_short_pct: 60
  funding_bias_max_bps: 20
  funding_size_factor: 0.5
  oi_spike_ratio: 0.3
  oi_size_factor: 0.6
  oi_stop_widen_factor: 1.4
`), 0o644))

	ov, err := LoadOverrides(path)
	require.NoError(t, err)
	require.NotNil(t, ov.Guards)
	assert.InDelta(t, 60, ov.Guards.CrowdedLongPct, 1e-9)
}

func TestLoadOverridesRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guards:
  crowded_long_pct: 140
  crowded_short_pct: 60
  funding_bias_max_bps: 20
  funding_size_factor: 0.5
  oi_spike_ratio: 0.3
  oi_size_factor: 0.6
  oi_stop_widen_factor: 1.4
`), 0o644))

	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crowded_long_pct")
}

func TestLoadOverridesRejectsUnknownKeys(t *testing.T) {
	// Kill-switch ceilings are not hot-reloadable; dropping one in here must
	// fail instead of being silently ignored.
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guards:
  crowded_long_pct: 60
  crowded_short_pct: 60
  funding_bias_max_bps: 20
  funding_size_factor: 0.5
  oi_spike_ratio: 0.3
  oi_size_factor: 0.6
  oi_stop_widen_factor: 1.4
  max_consecutive_losses: 5
`), 0o644))

	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_consecutive_losses")
}

func TestLoadOverridesEmptyGuardsBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# nothing here\n"), 0o644))

	ov, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Nil(t, ov.Guards)
}
