package risk

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the direction of a proposed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sentiment is the macro fear/greed classification.
type Sentiment string

const (
	SentimentExtremeFear  Sentiment = "extreme_fear"
	SentimentFear         Sentiment = "fear"
	SentimentNeutral      Sentiment = "neutral"
	SentimentGreed        Sentiment = "greed"
	SentimentExtremeGreed Sentiment = "extreme_greed"
	SentimentUnknown      Sentiment = "unknown"
)

// ParseSentiment maps free-form classifications ("Extreme Greed", "fear") to
// the canonical enum. Unrecognized input maps to unknown, not an error.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "extreme_fear":
		return SentimentExtremeFear
	case "fear":
		return SentimentFear
	case "neutral":
		return SentimentNeutral
	case "greed":
		return SentimentGreed
	case "extreme_greed":
		return SentimentExtremeGreed
	default:
		return SentimentUnknown
	}
}

// CurrencyStrength is the dollar-strength / risk-appetite classification.
type CurrencyStrength string

const (
	CurrencyRiskOff CurrencyStrength = "risk_off"
	CurrencyNeutral CurrencyStrength = "neutral"
	CurrencyRiskOn  CurrencyStrength = "risk_on"
	CurrencyUnknown CurrencyStrength = "unknown"
)

// Regime is the coarse market-behavior label.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

// Flow is the aggregated on-chain flow direction for an asset.
type Flow string

const (
	FlowBullish Flow = "bullish"
	FlowBearish Flow = "bearish"
	FlowNeutral Flow = "neutral"
	FlowUnknown Flow = "unknown"
)

// Consensus is the strategy-signal pool's combined view of an asset.
type Consensus struct {
	Action     string  // "buy", "sell", "hold"
	Score      float64 // signed strength in [-1, 1]
	Confidence float64 // [0, 1]
}

// Positioning captures how one-sided open market participants are.
// LongPct + ShortPct is not required to sum to exactly 100 (venue rounding).
type Positioning struct {
	LongPct  float64
	ShortPct float64
}

// TradeRequest is an immutable proposed trade submitted to the gate.
// Construct with NewTradeRequest; fields are never mutated after creation.
type TradeRequest struct {
	ID            string
	Strategy      string
	Symbol        string
	Side          Side
	NotionalUSD   float64
	StopLossBps   float64
	EntryPrice    float64
	Preconditions map[string]bool
	CreatedAt     time.Time
}

func NewTradeRequest(strategy, symbol string, side Side, notionalUSD, stopLossBps, entryPrice float64) TradeRequest {
	return TradeRequest{
		ID:          uuid.NewString(),
		Strategy:    strategy,
		Symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		Side:        side,
		NotionalUSD: notionalUSD,
		StopLossBps: stopLossBps,
		EntryPrice:  entryPrice,
		CreatedAt:   time.Now(),
	}
}

// WithPreconditions returns a copy carrying strategy-specific boolean flags.
func (r TradeRequest) WithPreconditions(pre map[string]bool) TradeRequest {
	cp := make(map[string]bool, len(pre))
	for k, v := range pre {
		cp[k] = v
	}
	r.Preconditions = cp
	return r
}

// ValidationResult is the gate's one-shot answer for a TradeRequest.
// A new request must be issued to re-validate; results are never mutated.
type ValidationResult struct {
	TraceID             string
	Approved            bool
	Reason              string
	SizeAdjustment      float64  // > 0 iff Approved
	StopLossOverrideBps *float64 // nil means keep the requested stop
	Warnings            []string
	EvaluatedAt         time.Time
}

// Reject builds a rejection result. SizeAdjustment is forced to zero so the
// invariant "approved=false implies adjustment 0" holds everywhere.
func Reject(traceID, reason string) ValidationResult {
	return ValidationResult{
		TraceID:        traceID,
		Approved:       false,
		Reason:         reason,
		SizeAdjustment: 0,
		EvaluatedAt:    time.Now(),
	}
}

// Approve builds an approval result. adjustment must be > 0; callers that end
// a pass with a zero multiplier should reject instead.
func Approve(traceID string, adjustment float64, stopOverride *float64, warnings []string) ValidationResult {
	return ValidationResult{
		TraceID:             traceID,
		Approved:            true,
		Reason:              "all validation layers passed",
		SizeAdjustment:      adjustment,
		StopLossOverrideBps: stopOverride,
		Warnings:            warnings,
		EvaluatedAt:         time.Now(),
	}
}
