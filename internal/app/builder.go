// Package app assembles the admission-gate process: session store and
// ledger, signal providers, the aggregator, the kill-switch monitor and the
// gate validator, then runs their background tasks under one errgroup.
package app

import (
	"context"
	"fmt"
	"time"

	"riskgate/internal/aggregator"
	"riskgate/internal/config"
	"riskgate/internal/gate"
	"riskgate/internal/gateway/binance"
	"riskgate/internal/gateway/critic"
	"riskgate/internal/gateway/health"
	"riskgate/internal/gateway/macro"
	"riskgate/internal/gateway/onchain"
	"riskgate/internal/killswitch"
	"riskgate/internal/logger"
	"riskgate/internal/provider"
	"riskgate/internal/provider/regimeclass"
	"riskgate/internal/provider/volbreaker"
	"riskgate/internal/session"
)

type Option func(*builder)

// WithFlatten installs the emergency close-all hook the kill switch fires
// once per trigger. Without it the trigger is logged as an alert only; order
// execution lives outside this process.
func WithFlatten(fn killswitch.FlattenFunc) Option {
	return func(b *builder) { b.flatten = fn }
}

// WithStore substitutes the session persistence backend (tests use fakes).
func WithStore(s session.Store) Option {
	return func(b *builder) { b.store = s }
}

type builder struct {
	cfg     *config.Config
	flatten killswitch.FlattenFunc
	store   session.Store
}

// Build wires the full process from configuration. The returned App is
// inert until Run is called; only the ledger recovery touches I/O here.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	b := &builder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.flatten == nil {
		b.flatten = func(_ context.Context, reason string) error {
			logger.Alertf("flatten requested but no executor attached: %s", reason)
			return nil
		}
	}

	if b.store == nil {
		store, err := session.NewGormStore(cfg.Session.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		b.store = store
	}
	ledger := session.NewLedger(b.store, cfg.Session.DayBoundary, cfg.Limits.MaxConcurrentTrades)
	if err := ledger.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recovering session ledger: %w", err)
	}

	providers, ticks := b.providers()
	agg := aggregator.New(aggregatorConfig(cfg), providers)
	monitor := killswitch.NewMonitor(cfg.KillSwitch, agg, b.flatten)
	validator := gate.NewValidator(cfg, agg, ledger, monitor)

	return &App{
		cfg:       cfg,
		ledger:    ledger,
		agg:       agg,
		monitor:   monitor,
		validator: validator,
		ticks:     ticks,
	}, nil
}

func (b *builder) providers() (aggregator.Providers, provider.TickSource) {
	pc := b.cfg.Providers
	derivs := binance.New(binance.Config{
		RESTBaseURL: pc.Binance.RESTBaseURL,
		OIPeriod:    pc.Binance.OIPeriod,
		OILookback:  pc.Binance.OILookback,
		HTTPTimeout: time.Duration(pc.TimeoutSeconds) * time.Second,
	})

	p := aggregator.Providers{
		Breaker: volbreaker.New(volbreaker.Config{
			Window:        pc.Breaker.Window,
			ATRMultiplier: pc.Breaker.ATRMultiplier,
			HardMovePct:   pc.Breaker.HardMovePct,
			Cooldown:      time.Duration(pc.Breaker.CooldownSeconds) * time.Second,
		}),
		Sentiment: macro.New(macro.Config{
			FearGreedURL: pc.Macro.FearGreedURL,
			CurrencyURL:  pc.Macro.CurrencyURL,
			CurrencyPath: pc.Macro.CurrencyPath,
			RiskOffAbove: pc.Macro.RiskOffAbove,
			RiskOnBelow:  pc.Macro.RiskOnBelow,
			HTTPTimeout:  time.Duration(pc.TimeoutSeconds) * time.Second,
		}),
		Flow: onchain.New(onchain.Config{
			Endpoint:     pc.OnChain.Endpoint,
			ExchangePath: pc.OnChain.ExchangePath,
			WhalePath:    pc.OnChain.WhalePath,
			StablePath:   pc.OnChain.StablePath,
			BullishAbove: pc.OnChain.BullishAbove,
			BearishBelow: pc.OnChain.BearishBelow,
			HTTPTimeout:  time.Duration(pc.TimeoutSeconds) * time.Second,
		}),
		Health: health.New(health.Config{
			Endpoint:    pc.Health.Endpoint,
			JSONPath:    pc.Health.JSONPath,
			StaticValue: pc.Health.StaticValue,
			HTTPTimeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		}),
		Derivatives: derivs,
	}

	primary := ""
	if len(pc.Binance.Symbols) > 0 {
		primary = pc.Binance.Symbols[0]
	}
	p.Regime = regimeclass.New(regimeclass.Config{
		Symbol:         primary,
		Interval:       pc.Binance.KlineInterval,
		FastEMA:        pc.Regime.FastEMA,
		SlowEMA:        pc.Regime.SlowEMA,
		ATRPeriod:      pc.Regime.ATRPeriod,
		VolatileATRPct: pc.Regime.VolatileATRPct,
		TrendBandPct:   pc.Regime.TrendBandPct,
	}, derivs)

	if pc.Critic.Enabled {
		svc, err := critic.New(critic.Config{
			Endpoint:    pc.Critic.Endpoint,
			APIKey:      pc.Critic.APIKey,
			Model:       pc.Critic.Model,
			HTTPTimeout: time.Duration(pc.Critic.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			logger.Warnf("app: critic disabled: %v", err)
		} else {
			p.Consensus = svc
		}
	}
	return p, derivs
}

func aggregatorConfig(cfg *config.Config) aggregator.Config {
	r := cfg.Providers.Refresh
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return aggregator.Config{
		Symbols:     cfg.Providers.Binance.Symbols,
		CallTimeout: seconds(cfg.Providers.TimeoutSeconds),
		Cadences: map[provider.ID]time.Duration{
			provider.IDSentiment:   seconds(r.SentimentSeconds),
			provider.IDCurrency:    seconds(r.CurrencySeconds),
			provider.IDRegime:      seconds(r.RegimeSeconds),
			provider.IDFlow:        seconds(r.FlowSeconds),
			provider.IDConsensus:   seconds(r.ConsensusSeconds),
			provider.IDDerivatives: seconds(r.DerivativesSeconds),
			provider.IDHealth:      seconds(r.HealthSeconds),
		},
	}
}
