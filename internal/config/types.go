package config

// Config is the top-level configuration for the admission gate process.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Trading    TradingConfig    `yaml:"trading"`
	Limits     LimitsConfig     `yaml:"limits"`
	Guards     GuardsConfig     `yaml:"guards"`
	Macro      MacroConfig      `yaml:"macro"`
	KillSwitch KillSwitchConfig `yaml:"killswitch"`
	Session    SessionConfig    `yaml:"session"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

type AppConfig struct {
	Env           string        `yaml:"env"`
	LogLevel      string        `yaml:"log_level"`
	LogPath       string        `yaml:"log_path"`
	OverridesPath string        `yaml:"overrides_path"` // optional hot-reloaded guard overrides
	Metrics       MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TradingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	WorkingCapitalUSD float64 `yaml:"working_capital_usd"`
}

// LimitsConfig holds the layer-1 absolute ceilings. All four are critical:
// the process refuses to start when any of them is missing from the file.
type LimitsConfig struct {
	MaxNotionalUSD      float64 `yaml:"max_notional_usd"`
	MaxStopLossBps      float64 `yaml:"max_stop_loss_bps"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	MaxDailyLossUSD     float64 `yaml:"max_daily_loss_usd"`
}

// GuardsConfig holds the layer-2 structural thresholds. The whole struct can
// be swapped at runtime through the overrides file.
type GuardsConfig struct {
	CrowdedLongPct    float64 `yaml:"crowded_long_pct"`  // block longs at/above this long share
	CrowdedShortPct   float64 `yaml:"crowded_short_pct"` // block shorts at/above this short share
	FundingBiasMaxBps float64 `yaml:"funding_bias_max_bps"`
	FundingSizeFactor float64 `yaml:"funding_size_factor"`
	OISpikeRatio      float64 `yaml:"oi_spike_ratio"`
	OISizeFactor      float64 `yaml:"oi_size_factor"`
	OIStopWidenFactor float64 `yaml:"oi_stop_widen_factor"`
}

type MacroConfig struct {
	GreedSizeFactor        float64 `yaml:"greed_size_factor"`
	BearShortSizeFactor    float64 `yaml:"bear_short_size_factor"`
	ConsensusMinConfidence float64 `yaml:"consensus_min_confidence"`
	ConsensusBoost         float64 `yaml:"consensus_boost"`
	ConsensusShrinkFactor  float64 `yaml:"consensus_shrink_factor"`
	HealthEntryFloor       float64 `yaml:"health_entry_floor"`
	HealthFlattenFloor     float64 `yaml:"health_flatten_floor"`
}

type KillSwitchConfig struct {
	MaxSessionDrawdownPct float64 `yaml:"max_session_drawdown_pct"` // percent of working capital
	MaxConsecutiveLosses  int     `yaml:"max_consecutive_losses"`
	HealthCriticalFloor   float64 `yaml:"health_critical_floor"`
	PollIntervalSeconds   int     `yaml:"poll_interval_seconds"`
	StaleBudgetMultiplier float64 `yaml:"stale_budget_multiplier"` // budget = cadence × multiplier
}

type SessionConfig struct {
	StorePath   string `yaml:"store_path"`
	DayBoundary string `yaml:"day_boundary"` // "utc" or "local"
}

type ProvidersConfig struct {
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	Refresh        RefreshConfig  `yaml:"refresh"`
	Binance        BinanceConfig  `yaml:"binance"`
	Macro          MacroFeeds     `yaml:"macro"`
	Critic         CriticConfig   `yaml:"critic"`
	Health         HealthFeed     `yaml:"health"`
	OnChain        OnChainFeed    `yaml:"onchain"`
	Breaker        BreakerTuning  `yaml:"breaker"`
	Regime         RegimeAnalysis `yaml:"regime"`
}

// RefreshConfig sets the per-provider refresh cadence in seconds. Each
// provider has its own background task; cadences are independent.
type RefreshConfig struct {
	TickSeconds        int `yaml:"tick_seconds"`
	SentimentSeconds   int `yaml:"sentiment_seconds"`
	CurrencySeconds    int `yaml:"currency_seconds"`
	RegimeSeconds      int `yaml:"regime_seconds"`
	FlowSeconds        int `yaml:"flow_seconds"`
	ConsensusSeconds   int `yaml:"consensus_seconds"`
	DerivativesSeconds int `yaml:"derivatives_seconds"`
	HealthSeconds      int `yaml:"health_seconds"`
}

type BinanceConfig struct {
	RESTBaseURL   string   `yaml:"rest_base_url"`
	Symbols       []string `yaml:"symbols"`
	KlineInterval string   `yaml:"kline_interval"`
	OIPeriod      string   `yaml:"oi_period"`
	OILookback    int      `yaml:"oi_lookback"`
}

type MacroFeeds struct {
	FearGreedURL string  `yaml:"fear_greed_url"`
	CurrencyURL  string  `yaml:"currency_url"`
	CurrencyPath string  `yaml:"currency_json_path"` // gjson path to the strength scalar
	RiskOffAbove float64 `yaml:"risk_off_above"`
	RiskOnBelow  float64 `yaml:"risk_on_below"`
}

type CriticConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// HealthFeed configures the collateral health-factor source. When Endpoint
// is empty, StaticValue is served instead (no lending position to watch).
type HealthFeed struct {
	Endpoint    string  `yaml:"endpoint"`
	JSONPath    string  `yaml:"json_path"`
	StaticValue float64 `yaml:"static_value"`
}

type OnChainFeed struct {
	Endpoint     string  `yaml:"endpoint"`
	ExchangePath string  `yaml:"exchange_json_path"`
	WhalePath    string  `yaml:"whale_json_path"`
	StablePath   string  `yaml:"stable_json_path"`
	BullishAbove float64 `yaml:"bullish_above"`
	BearishBelow float64 `yaml:"bearish_below"`
}

type BreakerTuning struct {
	Window          int     `yaml:"window"`
	ATRMultiplier   float64 `yaml:"atr_multiplier"`
	HardMovePct     float64 `yaml:"hard_move_pct"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
}

type RegimeAnalysis struct {
	FastEMA        int     `yaml:"fast_ema"`
	SlowEMA        int     `yaml:"slow_ema"`
	ATRPeriod      int     `yaml:"atr_period"`
	VolatileATRPct float64 `yaml:"volatile_atr_pct"`
	TrendBandPct   float64 `yaml:"trend_band_pct"`
}
