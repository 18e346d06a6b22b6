// Package aggregator owns the process-wide view of all external risk
// signals. Providers are pulled on independent cadences; every read path
// gets an immutable copy of the cache, never the live structure.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskgate/internal/logger"
	"riskgate/internal/metrics"
	"riskgate/internal/pkg/circuit"
	"riskgate/internal/provider"
	"riskgate/internal/risk"
)

// providerFailureThreshold opens a provider's circuit after this many
// consecutive refresh failures; the breaker cooldown then defers further
// attempts to a later scheduled tick.
const providerFailureThreshold = 3

type Providers struct {
	Breaker     provider.BreakerProvider
	Sentiment   provider.SentimentProvider
	Regime      provider.RegimeProvider
	Flow        provider.FlowProvider
	Consensus   provider.ConsensusProvider
	Derivatives provider.DerivativesProvider
	Health      provider.HealthProvider
}

type Config struct {
	Symbols     []string
	CallTimeout time.Duration
	Cadences    map[provider.ID]time.Duration
}

type Aggregator struct {
	cfg       Config
	providers Providers
	circuits  map[provider.ID]*circuit.Breaker

	mu    sync.RWMutex
	state risk.State
	nowFn func() time.Time
}

func New(cfg Config, p Providers) *Aggregator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	circuits := make(map[provider.ID]*circuit.Breaker)
	for _, id := range []provider.ID{
		provider.IDSentiment, provider.IDCurrency, provider.IDRegime,
		provider.IDFlow, provider.IDConsensus, provider.IDDerivatives, provider.IDHealth,
	} {
		cooldown := cfg.Cadences[id]
		if cooldown <= 0 {
			cooldown = time.Minute
		}
		circuits[id] = circuit.NewBreaker(string(id), providerFailureThreshold, cooldown)
	}
	return &Aggregator{
		cfg:       cfg,
		providers: p,
		circuits:  circuits,
		state:     risk.NewState(),
		nowFn:     time.Now,
	}
}

// Snapshot returns a fully-formed copy of the cache taken atomically at
// read time. Callers may hold it as long as they want; it never changes.
func (a *Aggregator) Snapshot() risk.State {
	a.mu.RLock()
	cp := a.state.Clone()
	a.mu.RUnlock()
	cp.TakenAt = a.nowFn()
	return cp
}

// Cadence reports the configured refresh interval for a provider, used by
// staleness policy (a field older than its cadence earns a warning).
func (a *Aggregator) Cadence(id provider.ID) time.Duration {
	return a.cfg.Cadences[id]
}

// Refresh pulls from exactly one provider. Failures are contained here:
// they log, count, and leave the previous cached value in place with its
// age growing naturally. Refresh never returns an error and never retries
// within the same cycle (the circuit breaker defers to a later tick).
func (a *Aggregator) Refresh(ctx context.Context, id provider.ID) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	var err error
	switch id {
	case provider.IDSentiment:
		err = a.guarded(id, func() error { return a.refreshSentiment(ctx) })
	case provider.IDCurrency:
		err = a.guarded(id, func() error { return a.refreshCurrency(ctx) })
	case provider.IDRegime:
		err = a.guarded(id, func() error { return a.refreshRegime(ctx) })
	case provider.IDFlow:
		err = a.guarded(id, func() error { return a.refreshFlows(ctx) })
	case provider.IDConsensus:
		err = a.guarded(id, func() error { return a.refreshConsensus(ctx) })
	case provider.IDDerivatives:
		err = a.guarded(id, func() error { return a.refreshDerivatives(ctx) })
	case provider.IDHealth:
		err = a.guarded(id, func() error { return a.refreshHealth(ctx) })
	default:
		logger.Warnf("aggregator: unknown provider id %q", id)
		return
	}
	if err != nil {
		metrics.ProviderFailures.WithLabelValues(string(id)).Inc()
		logger.Warnf("aggregator: %s refresh degraded, keeping previous value: %v", id, err)
	}
}

func (a *Aggregator) guarded(id provider.ID, fn func() error) error {
	cb := a.circuits[id]
	if cb == nil {
		return fn()
	}
	return cb.Do(fn, fmt.Errorf("%w: circuit open for %s", risk.ErrProviderUnavailable, id))
}

func (a *Aggregator) refreshSentiment(ctx context.Context) error {
	if a.providers.Sentiment == nil {
		return nil
	}
	s, err := a.providers.Sentiment.SentimentSignal(ctx)
	if err != nil {
		return err
	}
	now := a.nowFn()
	a.mu.Lock()
	a.state.Sentiment = risk.Stamped[risk.Sentiment]{Value: s, ObservedAt: now}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) refreshCurrency(ctx context.Context) error {
	if a.providers.Sentiment == nil {
		return nil
	}
	s, err := a.providers.Sentiment.CurrencyStrengthSignal(ctx)
	if err != nil {
		return err
	}
	now := a.nowFn()
	a.mu.Lock()
	a.state.Currency = risk.Stamped[risk.CurrencyStrength]{Value: s, ObservedAt: now}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) refreshRegime(ctx context.Context) error {
	if a.providers.Regime == nil {
		return nil
	}
	r, err := a.providers.Regime.Regime(ctx, "")
	if err != nil {
		return err
	}
	now := a.nowFn()
	a.mu.Lock()
	a.state.Regime = risk.Stamped[risk.Regime]{Value: r, ObservedAt: now}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) refreshFlows(ctx context.Context) error {
	if a.providers.Flow == nil {
		return nil
	}
	var firstErr error
	now := a.nowFn()
	for _, sym := range a.cfg.Symbols {
		f, err := a.providers.Flow.FlowSignal(ctx, sym)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.mu.Lock()
		a.state.Flows[sym] = risk.Stamped[risk.Flow]{Value: f, ObservedAt: now}
		a.mu.Unlock()
	}
	return firstErr
}

func (a *Aggregator) refreshConsensus(ctx context.Context) error {
	if a.providers.Consensus == nil {
		return nil
	}
	var firstErr error
	now := a.nowFn()
	for _, sym := range a.cfg.Symbols {
		c, err := a.providers.Consensus.Consensus(ctx, sym)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.mu.Lock()
		a.state.Consensus[sym] = risk.Stamped[risk.Consensus]{Value: c, ObservedAt: now}
		a.mu.Unlock()
	}
	return firstErr
}

func (a *Aggregator) refreshDerivatives(ctx context.Context) error {
	if a.providers.Derivatives == nil {
		return nil
	}
	var firstErr error
	now := a.nowFn()
	for _, sym := range a.cfg.Symbols {
		if pos, err := a.providers.Derivatives.Positioning(ctx, sym); err != nil {
			firstErr = coalesce(firstErr, err)
		} else {
			a.mu.Lock()
			a.state.Positioning[sym] = risk.Stamped[risk.Positioning]{Value: pos, ObservedAt: now}
			a.mu.Unlock()
		}
		if bias, err := a.providers.Derivatives.FundingBiasBps(ctx, sym); err != nil {
			firstErr = coalesce(firstErr, err)
		} else {
			a.mu.Lock()
			a.state.FundingBps[sym] = risk.Stamped[float64]{Value: bias, ObservedAt: now}
			a.mu.Unlock()
		}
		if change, err := a.providers.Derivatives.OpenInterestChange(ctx, sym); err != nil {
			firstErr = coalesce(firstErr, err)
		} else {
			a.mu.Lock()
			a.state.OIChange[sym] = risk.Stamped[float64]{Value: change, ObservedAt: now}
			a.mu.Unlock()
		}
	}
	return firstErr
}

func (a *Aggregator) refreshHealth(ctx context.Context) error {
	if a.providers.Health == nil {
		return nil
	}
	hf, err := a.providers.Health.HealthFactor(ctx)
	if err != nil {
		return err
	}
	now := a.nowFn()
	a.mu.Lock()
	a.state.HealthFactor = risk.Stamped[float64]{Value: hf, ObservedAt: now}
	a.mu.Unlock()
	metrics.HealthFactor.Set(hf)
	return nil
}

// IngestPriceTick feeds one price observation into the volatility breaker
// and mirrors the breaker state into the cache. A fresh trip raises an
// alert immediately rather than waiting for the next scheduled refresh.
func (a *Aggregator) IngestPriceTick(symbol string, price, high, low float64) {
	if a.providers.Breaker == nil {
		return
	}
	freshTrip := a.providers.Breaker.IngestTick(symbol, price, high, low)
	active := a.providers.Breaker.BreakerState(symbol)

	a.mu.Lock()
	a.state.Breakers[symbol] = active
	a.mu.Unlock()

	if freshTrip {
		metrics.BreakerTrips.WithLabelValues(symbol).Inc()
		logger.Alertf("circuit breaker active for %s, new entries blocked", symbol)
	}
}

// FeedAges reports the age of the watched feeds, used by the kill-switch
// staleness check. Feeds that have never produced a value are omitted so a
// freshly started process does not read as stale before its first fetch.
func (a *Aggregator) FeedAges() map[provider.ID]time.Duration {
	now := a.nowFn()
	a.mu.RLock()
	defer a.mu.RUnlock()
	ages := make(map[provider.ID]time.Duration, 4)
	if !a.state.Sentiment.ObservedAt.IsZero() {
		ages[provider.IDSentiment] = a.state.Sentiment.Age(now)
	}
	if !a.state.Currency.ObservedAt.IsZero() {
		ages[provider.IDCurrency] = a.state.Currency.Age(now)
	}
	if !a.state.Regime.ObservedAt.IsZero() {
		ages[provider.IDRegime] = a.state.Regime.Age(now)
	}
	if !a.state.HealthFactor.ObservedAt.IsZero() {
		ages[provider.IDHealth] = a.state.HealthFactor.Age(now)
	}
	return ages
}

func coalesce(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
