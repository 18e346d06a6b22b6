package config

import (
	"fmt"

	"riskgate/internal/risk"
)

// criticalKeys are thresholds the gate must never run with implicit values.
// Each must appear in the config file; validate fails the load otherwise.
var criticalKeys = []string{
	"limits.max_notional_usd",
	"limits.max_stop_loss_bps",
	"limits.max_concurrent_trades",
	"limits.max_daily_loss_usd",
	"guards.crowded_long_pct",
	"guards.crowded_short_pct",
	"guards.funding_bias_max_bps",
	"guards.oi_spike_ratio",
	"macro.health_entry_floor",
	"macro.health_flatten_floor",
	"killswitch.max_session_drawdown_pct",
	"killswitch.max_consecutive_losses",
	"killswitch.health_critical_floor",
	"trading.working_capital_usd",
}

func validate(c *Config, set keySet) error {
	for _, key := range criticalKeys {
		if !set.has(key) {
			return fmt.Errorf("%w: missing critical threshold %q", risk.ErrConfigLoad, key)
		}
	}
	if err := c.Limits.validate(); err != nil {
		return err
	}
	if err := c.Guards.validate(); err != nil {
		return err
	}
	if err := c.Macro.validate(); err != nil {
		return err
	}
	if err := c.KillSwitch.validate(); err != nil {
		return err
	}
	if c.Trading.WorkingCapitalUSD <= 0 {
		return fmt.Errorf("%w: trading.working_capital_usd must be > 0", risk.ErrConfigLoad)
	}
	if len(c.Providers.Binance.Symbols) == 0 {
		return fmt.Errorf("%w: providers.binance.symbols requires at least one symbol", risk.ErrConfigLoad)
	}
	if c.Providers.Critic.Enabled && c.Providers.Critic.Endpoint == "" {
		return fmt.Errorf("%w: providers.critic.endpoint cannot be empty when enabled", risk.ErrConfigLoad)
	}
	return nil
}

func (l *LimitsConfig) validate() error {
	if l.MaxNotionalUSD <= 0 {
		return fmt.Errorf("%w: limits.max_notional_usd must be > 0", risk.ErrConfigLoad)
	}
	if l.MaxStopLossBps <= 0 {
		return fmt.Errorf("%w: limits.max_stop_loss_bps must be > 0", risk.ErrConfigLoad)
	}
	if l.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("%w: limits.max_concurrent_trades must be > 0", risk.ErrConfigLoad)
	}
	if l.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("%w: limits.max_daily_loss_usd must be > 0", risk.ErrConfigLoad)
	}
	return nil
}

func (g *GuardsConfig) validate() error {
	if g.CrowdedLongPct <= 0 || g.CrowdedLongPct > 100 {
		return fmt.Errorf("%w: guards.crowded_long_pct must be in (0,100]", risk.ErrConfigLoad)
	}
	if g.CrowdedShortPct <= 0 || g.CrowdedShortPct > 100 {
		return fmt.Errorf("%w: guards.crowded_short_pct must be in (0,100]", risk.ErrConfigLoad)
	}
	if g.FundingBiasMaxBps <= 0 {
		return fmt.Errorf("%w: guards.funding_bias_max_bps must be > 0", risk.ErrConfigLoad)
	}
	if g.FundingSizeFactor <= 0 || g.FundingSizeFactor > 1 {
		return fmt.Errorf("%w: guards.funding_size_factor must be in (0,1]", risk.ErrConfigLoad)
	}
	if g.OISpikeRatio <= 0 {
		return fmt.Errorf("%w: guards.oi_spike_ratio must be > 0", risk.ErrConfigLoad)
	}
	if g.OISizeFactor <= 0 || g.OISizeFactor > 1 {
		return fmt.Errorf("%w: guards.oi_size_factor must be in (0,1]", risk.ErrConfigLoad)
	}
	if g.OIStopWidenFactor < 1 {
		return fmt.Errorf("%w: guards.oi_stop_widen_factor must be >= 1", risk.ErrConfigLoad)
	}
	return nil
}

func (m *MacroConfig) validate() error {
	if m.GreedSizeFactor <= 0 || m.GreedSizeFactor > 1 {
		return fmt.Errorf("%w: macro.greed_size_factor must be in (0,1]", risk.ErrConfigLoad)
	}
	if m.BearShortSizeFactor <= 0 || m.BearShortSizeFactor > 1 {
		return fmt.Errorf("%w: macro.bear_short_size_factor must be in (0,1]", risk.ErrConfigLoad)
	}
	if m.ConsensusMinConfidence <= 0 || m.ConsensusMinConfidence > 1 {
		return fmt.Errorf("%w: macro.consensus_min_confidence must be in (0,1]", risk.ErrConfigLoad)
	}
	if m.ConsensusBoost < 1 || m.ConsensusBoost > 1.15 {
		return fmt.Errorf("%w: macro.consensus_boost must be in [1,1.15]", risk.ErrConfigLoad)
	}
	if m.ConsensusShrinkFactor <= 0 || m.ConsensusShrinkFactor > 1 {
		return fmt.Errorf("%w: macro.consensus_shrink_factor must be in (0,1]", risk.ErrConfigLoad)
	}
	if m.HealthEntryFloor <= 0 {
		return fmt.Errorf("%w: macro.health_entry_floor must be > 0", risk.ErrConfigLoad)
	}
	if m.HealthFlattenFloor <= 0 {
		return fmt.Errorf("%w: macro.health_flatten_floor must be > 0", risk.ErrConfigLoad)
	}
	if m.HealthFlattenFloor > m.HealthEntryFloor {
		return fmt.Errorf("%w: macro.health_flatten_floor cannot exceed health_entry_floor", risk.ErrConfigLoad)
	}
	return nil
}

func (k *KillSwitchConfig) validate() error {
	if k.MaxSessionDrawdownPct <= 0 || k.MaxSessionDrawdownPct > 100 {
		return fmt.Errorf("%w: killswitch.max_session_drawdown_pct must be in (0,100]", risk.ErrConfigLoad)
	}
	if k.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("%w: killswitch.max_consecutive_losses must be > 0", risk.ErrConfigLoad)
	}
	if k.HealthCriticalFloor <= 0 {
		return fmt.Errorf("%w: killswitch.health_critical_floor must be > 0", risk.ErrConfigLoad)
	}
	if k.StaleBudgetMultiplier < 1 {
		return fmt.Errorf("%w: killswitch.stale_budget_multiplier must be >= 1", risk.ErrConfigLoad)
	}
	return nil
}
