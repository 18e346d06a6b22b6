// Package provider defines the narrow capabilities the aggregator pulls
// risk signals through. Each provider is an independent black box; concrete
// adapters live under internal/gateway and internal/provider/volbreaker.
package provider

import (
	"context"

	"riskgate/internal/risk"
)

// ID names one refreshable provider slot in the aggregator.
type ID string

const (
	IDSentiment   ID = "sentiment"
	IDCurrency    ID = "currency"
	IDRegime      ID = "regime"
	IDFlow        ID = "flow"
	IDConsensus   ID = "consensus"
	IDDerivatives ID = "derivatives"
	IDHealth      ID = "health"
)

// BreakerProvider is the per-asset volatility circuit breaker. IngestTick is
// called from the price-tick task; BreakerState is read on refresh and after
// each ingest.
type BreakerProvider interface {
	IngestTick(symbol string, price, high, low float64) (tripped bool)
	BreakerState(symbol string) bool
}

// SentimentProvider classifies broad market mood and dollar strength.
type SentimentProvider interface {
	SentimentSignal(ctx context.Context) (risk.Sentiment, error)
	CurrencyStrengthSignal(ctx context.Context) (risk.CurrencyStrength, error)
}

// RegimeProvider labels current market behavior for an asset. An empty
// symbol asks for the market-wide label.
type RegimeProvider interface {
	Regime(ctx context.Context, symbol string) (risk.Regime, error)
}

// FlowProvider reports the aggregated on-chain flow direction for an asset.
type FlowProvider interface {
	FlowSignal(ctx context.Context, symbol string) (risk.Flow, error)
}

// ConsensusProvider reports the pooled strategy-signal view of an asset.
type ConsensusProvider interface {
	Consensus(ctx context.Context, symbol string) (risk.Consensus, error)
}

// HealthProvider reports the collateral health factor of the funding
// position backing the account. Below 1.0 implies liquidation risk.
type HealthProvider interface {
	HealthFactor(ctx context.Context) (float64, error)
}

// DerivativesProvider exposes market-microstructure readings used by the
// positioning guards: crowd positioning, funding skew and open-interest
// drift.
type DerivativesProvider interface {
	Positioning(ctx context.Context, symbol string) (risk.Positioning, error)
	FundingBiasBps(ctx context.Context, symbol string) (float64, error)
	OpenInterestChange(ctx context.Context, symbol string) (float64, error)
}

// TickSource feeds raw price observations into the breaker path.
type TickSource interface {
	LatestTick(ctx context.Context, symbol string) (price, high, low float64, err error)
}
