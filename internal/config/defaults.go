package config

// keySet tracks which config keys were explicitly present in the file, so
// defaults never silently stand in for safety-critical thresholds.
type keySet map[string]struct{}

func (k keySet) mark(key string) { k[key] = struct{}{} }

func (k keySet) has(key string) bool {
	_, ok := k[key]
	return ok
}

// applyDefaults fills non-critical fields that were absent from the file.
// Safety limits (limits.*, killswitch ceilings, health floors) are left
// untouched: validate rejects the config when those are missing.
func (c *Config) applyDefaults(set keySet) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Metrics.ListenAddr == "" {
		c.App.Metrics.ListenAddr = "127.0.0.1:9109"
	}
	if !set.has("trading.enabled") {
		c.Trading.Enabled = true
	}

	g := &c.Guards
	if g.FundingSizeFactor == 0 {
		g.FundingSizeFactor = 0.75
	}
	if g.OISizeFactor == 0 {
		g.OISizeFactor = 0.7
	}
	if g.OIStopWidenFactor == 0 {
		g.OIStopWidenFactor = 1.5
	}

	m := &c.Macro
	if m.GreedSizeFactor == 0 {
		m.GreedSizeFactor = 0.5
	}
	if m.BearShortSizeFactor == 0 {
		m.BearShortSizeFactor = 0.7
	}
	if m.ConsensusMinConfidence == 0 {
		m.ConsensusMinConfidence = 0.7
	}
	if m.ConsensusBoost == 0 {
		m.ConsensusBoost = 1.15
	}
	if m.ConsensusShrinkFactor == 0 {
		m.ConsensusShrinkFactor = 0.6
	}

	ks := &c.KillSwitch
	if ks.PollIntervalSeconds == 0 {
		ks.PollIntervalSeconds = 15
	}
	if ks.StaleBudgetMultiplier == 0 {
		ks.StaleBudgetMultiplier = 4
	}

	if c.Session.StorePath == "" {
		c.Session.StorePath = "data/session.db"
	}
	if c.Session.DayBoundary == "" {
		c.Session.DayBoundary = "utc"
	}

	p := &c.Providers
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 10
	}
	r := &p.Refresh
	if r.TickSeconds == 0 {
		r.TickSeconds = 30
	}
	if r.SentimentSeconds == 0 {
		r.SentimentSeconds = 900
	}
	if r.CurrencySeconds == 0 {
		r.CurrencySeconds = 900
	}
	if r.RegimeSeconds == 0 {
		r.RegimeSeconds = 1800
	}
	if r.FlowSeconds == 0 {
		r.FlowSeconds = 1800
	}
	if r.ConsensusSeconds == 0 {
		r.ConsensusSeconds = 1800
	}
	if r.DerivativesSeconds == 0 {
		r.DerivativesSeconds = 300
	}
	if r.HealthSeconds == 0 {
		r.HealthSeconds = 120
	}

	b := &p.Binance
	if b.RESTBaseURL == "" {
		b.RESTBaseURL = "https://fapi.binance.com"
	}
	if b.KlineInterval == "" {
		b.KlineInterval = "5m"
	}
	if b.OIPeriod == "" {
		b.OIPeriod = "5m"
	}
	if b.OILookback == 0 {
		b.OILookback = 12
	}

	mf := &p.Macro
	if mf.FearGreedURL == "" {
		mf.FearGreedURL = "https://api.alternative.me/fng/?limit=1"
	}

	if p.Critic.TimeoutSeconds == 0 {
		p.Critic.TimeoutSeconds = 30
	}
	if p.Health.Endpoint == "" && p.Health.StaticValue == 0 {
		// No lending position configured: report a comfortably safe ratio.
		p.Health.StaticValue = 10
	}

	bt := &p.Breaker
	if bt.Window == 0 {
		bt.Window = 48
	}
	if bt.ATRMultiplier == 0 {
		bt.ATRMultiplier = 3.0
	}
	if bt.HardMovePct == 0 {
		bt.HardMovePct = 8.0
	}
	if bt.CooldownSeconds == 0 {
		bt.CooldownSeconds = 1800
	}

	ra := &p.Regime
	if ra.FastEMA == 0 {
		ra.FastEMA = 20
	}
	if ra.SlowEMA == 0 {
		ra.SlowEMA = 60
	}
	if ra.ATRPeriod == 0 {
		ra.ATRPeriod = 14
	}
	if ra.VolatileATRPct == 0 {
		ra.VolatileATRPct = 4.0
	}
	if ra.TrendBandPct == 0 {
		ra.TrendBandPct = 0.5
	}
}
