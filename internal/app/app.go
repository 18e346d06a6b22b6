package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"riskgate/internal/aggregator"
	"riskgate/internal/config"
	"riskgate/internal/gate"
	"riskgate/internal/killswitch"
	"riskgate/internal/logger"
	"riskgate/internal/metrics"
	"riskgate/internal/provider"
	"riskgate/internal/scheduler"
	"riskgate/internal/session"
)

// App owns the wired components and their background tasks. The gate itself
// is synchronous; everything feeding it runs under Run.
type App struct {
	cfg       *config.Config
	ledger    *session.Ledger
	agg       *aggregator.Aggregator
	monitor   *killswitch.Monitor
	validator *gate.Validator
	ticks     provider.TickSource
}

// Gate exposes the admission validator to the embedding host.
func (a *App) Gate() *gate.Validator { return a.validator }

// Ledger exposes the session ledger for trade open/close reporting.
func (a *App) Ledger() *session.Ledger { return a.ledger }

// KillSwitch exposes the halt monitor for manual trigger and reset.
func (a *App) KillSwitch() *killswitch.Monitor { return a.monitor }

// Run starts every background task and blocks until ctx is cancelled or one
// task fails hard. Provider refresh loops never return errors; the group
// exists so cancellation tears everything down together.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, id := range []provider.ID{
		provider.IDSentiment, provider.IDCurrency, provider.IDRegime,
		provider.IDFlow, provider.IDConsensus, provider.IDDerivatives, provider.IDHealth,
	} {
		id := id
		cadence := a.agg.Cadence(id)
		if cadence <= 0 {
			logger.Warnf("app: %s refresh disabled, no cadence configured", id)
			continue
		}
		g.Go(func() error {
			scheduler.Every(ctx, string(id), cadence, true, func(ctx context.Context) {
				a.agg.Refresh(ctx, id)
			})
			return nil
		})
	}

	g.Go(func() error {
		a.runTickLoop(ctx)
		return nil
	})

	g.Go(func() error { return a.monitor.Run(ctx) })

	if a.cfg.App.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, a.cfg.App.Metrics.ListenAddr) })
	}

	if path := a.cfg.App.OverridesPath; path != "" {
		g.Go(func() error {
			return config.WatchOverrides(ctx, path, a.validator.SetGuards)
		})
	}

	g.Go(func() error {
		a.logSessionStats(ctx)
		return nil
	})

	logger.Infof("admission gate running, %d symbols watched", len(a.cfg.Providers.Binance.Symbols))
	return g.Wait()
}

// runTickLoop feeds latest prices into the volatility breaker. Fetch errors
// are logged and skipped; the breaker simply sees fewer observations.
func (a *App) runTickLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Providers.Refresh.TickSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	scheduler.Every(ctx, "price-ticks", interval, true, func(ctx context.Context) {
		for _, sym := range a.cfg.Providers.Binance.Symbols {
			price, high, low, err := a.ticks.LatestTick(ctx, sym)
			if err != nil {
				logger.Warnf("app: tick fetch for %s failed: %v", sym, err)
				continue
			}
			a.agg.IngestPriceTick(sym, price, high, low)
		}
	})
}

func (a *App) logSessionStats(ctx context.Context) {
	scheduler.Every(ctx, "session-stats", 5*time.Minute, false, func(context.Context) {
		st := a.ledger.Stats()
		halted, reason := a.monitor.ShouldHalt()
		logger.Infof("session: pnl=%.2f open=%d daily_trades=%d daily_loss=%.2f streak=%d halted=%v %s",
			st.SessionPnLUSD, st.OpenTrades, st.DailyTrades,
			st.DailyLossUSD, st.ConsecutiveLosses, halted, reason)
	})
}
