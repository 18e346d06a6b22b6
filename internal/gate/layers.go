package gate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"riskgate/internal/provider"
	"riskgate/internal/risk"
	"riskgate/internal/session"
)

// Layer 1: absolute ceilings independent of any signal. Boundary semantics,
// pinned per rule and covered by boundary tests:
//   - notional strictly greater than the maximum rejects (at the max passes)
//   - stop distance strictly greater than the maximum rejects
//   - open trades at or above the concurrency cap rejects
//   - daily loss at or above the daily cap rejects
func (v *Validator) checkHardLimits(req risk.TradeRequest, stats session.Stats) layerOutcome {
	if key, ok := failedPrecondition(req.Preconditions); ok {
		return rejected("strategy precondition %q not met", key)
	}
	if req.NotionalUSD > v.limits.MaxNotionalUSD {
		return rejected("notional %.2f exceeds global maximum %.2f", req.NotionalUSD, v.limits.MaxNotionalUSD)
	}
	if req.StopLossBps > v.limits.MaxStopLossBps {
		return rejected("stop-loss %.1f bps exceeds maximum %.1f bps", req.StopLossBps, v.limits.MaxStopLossBps)
	}
	if stats.OpenTrades >= v.limits.MaxConcurrentTrades {
		return rejected("concurrent open trades at cap (%d/%d)", stats.OpenTrades, v.limits.MaxConcurrentTrades)
	}
	if stats.DailyLossUSD >= v.limits.MaxDailyLossUSD {
		return rejected("daily loss %.2f at or above cap %.2f", stats.DailyLossUSD, v.limits.MaxDailyLossUSD)
	}
	return passing()
}

// Layer 2: market-microstructure guards on the requested asset. Blocking
// guards run before derating guards, so when the positioning guard and the
// funding guard disagree the block wins. Stale per-asset data earns a
// warning but never a rejection.
func (v *Validator) checkStructure(req risk.TradeRequest, snap risk.State) layerOutcome {
	guards := *v.guards.Load()
	out := passing()
	now := v.nowFn()
	derivAge := v.snapshots.Cadence(provider.IDDerivatives)

	if snap.Breakers[req.Symbol] {
		return rejected("volatility circuit breaker active for %s", req.Symbol)
	}

	if pos, ok := snap.Positioning[req.Symbol]; ok {
		if stale(pos.ObservedAt, now, derivAge) {
			out.warn("positioning data for %s is %s old", req.Symbol, roundAge(now.Sub(pos.ObservedAt)))
		}
		if req.Side == risk.SideShort && pos.Value.ShortPct >= guards.CrowdedShortPct {
			return rejected("positioning guard: %.1f%% of accounts already short %s (threshold %.1f%%)",
				pos.Value.ShortPct, req.Symbol, guards.CrowdedShortPct)
		}
		if req.Side == risk.SideLong && pos.Value.LongPct >= guards.CrowdedLongPct {
			return rejected("positioning guard: %.1f%% of accounts already long %s (threshold %.1f%%)",
				pos.Value.LongPct, req.Symbol, guards.CrowdedLongPct)
		}
	}

	if bias, ok := snap.FundingBps[req.Symbol]; ok {
		if stale(bias.ObservedAt, now, derivAge) {
			out.warn("funding data for %s is %s old", req.Symbol, roundAge(now.Sub(bias.ObservedAt)))
		}
		// Positive bias means longs pay shorts: the long side is disfavored.
		if req.Side == risk.SideLong && bias.Value >= guards.FundingBiasMaxBps {
			out.shrink(guards.FundingSizeFactor, "funding skew %.1f bps against longs, size reduced", bias.Value)
		}
		if req.Side == risk.SideShort && bias.Value <= -guards.FundingBiasMaxBps {
			out.shrink(guards.FundingSizeFactor, "funding skew %.1f bps against shorts, size reduced", bias.Value)
		}
	}

	if oi, ok := snap.OIChange[req.Symbol]; ok {
		if stale(oi.ObservedAt, now, derivAge) {
			out.warn("open-interest data for %s is %s old", req.Symbol, roundAge(now.Sub(oi.ObservedAt)))
		}
		if oi.Value >= guards.OISpikeRatio {
			out.shrink(guards.OISizeFactor, "open interest up %.1f%% over lookback, size reduced and stop widened", oi.Value*100)
			widened := math.Min(req.StopLossBps*guards.OIStopWidenFactor, v.limits.MaxStopLossBps)
			out.stopOverride = &widened
		}
	}
	return out
}

// Layer 3: asset-agnostic market-condition filters plus the collateral
// health floors. The confirming-consensus boost here is the gate's only
// amplification path and is bounded by configuration at 1.15×.
func (v *Validator) checkMacro(req risk.TradeRequest, snap risk.State) layerOutcome {
	out := passing()
	now := v.nowFn()

	sentiment := snap.SentimentOrUnknown()
	if stale(snap.Sentiment.ObservedAt, now, v.snapshots.Cadence(provider.IDSentiment)) {
		out.warn("sentiment reading is %s old", roundAge(now.Sub(snap.Sentiment.ObservedAt)))
	}
	switch sentiment {
	case risk.SentimentExtremeGreed:
		return rejected("market sentiment is extreme greed, new entries blocked")
	case risk.SentimentGreed:
		out.shrink(v.macro.GreedSizeFactor, "greed sentiment, size reduced")
	}

	if snap.CurrencyOrUnknown() == risk.CurrencyRiskOff {
		return rejected("currency strength signals risk-off, new entries blocked")
	}

	regime := snap.RegimeOrUnknown()
	if stale(snap.Regime.ObservedAt, now, v.snapshots.Cadence(provider.IDRegime)) {
		out.warn("regime reading is %s old", roundAge(now.Sub(snap.Regime.ObservedAt)))
	}
	if regime == risk.RegimeBear {
		if req.Side == risk.SideLong {
			return rejected("bear regime, new long entries blocked")
		}
		out.shrink(v.macro.BearShortSizeFactor, "bear regime, short size reduced")
	}

	if flow, ok := snap.Flows[req.Symbol]; ok {
		if req.Side == risk.SideLong && flow.Value == risk.FlowBearish {
			out.warn("on-chain flow for %s is bearish", req.Symbol)
		}
		if req.Side == risk.SideShort && flow.Value == risk.FlowBullish {
			out.warn("on-chain flow for %s is bullish", req.Symbol)
		}
	}

	if c, ok := snap.Consensus[req.Symbol]; ok && c.Value.Confidence >= v.macro.ConsensusMinConfidence {
		switch {
		case agrees(c.Value.Action, req.Side):
			out.multiplier *= v.macro.ConsensusBoost
		case disagrees(c.Value.Action, req.Side):
			out.shrink(v.macro.ConsensusShrinkFactor,
				"strategy consensus (%s, confidence %.2f) disagrees with %s, size reduced",
				c.Value.Action, c.Value.Confidence, req.Side)
		}
	}

	// Health floors reject strictly below the line: exactly at a floor still
	// passes. The flatten floor additionally raises the emergency condition.
	if !snap.HealthFactor.ObservedAt.IsZero() {
		hf := snap.HealthFactor.Value
		if hf < v.macro.HealthFlattenFloor {
			v.halter.TriggerEmergency(fmt.Sprintf(
				"health factor %.2f below flatten floor %.2f", hf, v.macro.HealthFlattenFloor))
			return rejected("health factor %.2f below flatten floor %.2f, emergency flatten signaled",
				hf, v.macro.HealthFlattenFloor)
		}
		if hf < v.macro.HealthEntryFloor {
			return rejected("health factor %.2f below entry floor %.2f", hf, v.macro.HealthEntryFloor)
		}
	} else {
		out.warn("collateral health factor has never been observed")
	}
	return out
}

// Layer 4: the kill switch and session limits. Checked last because it
// overrides everything: any trigger rejects regardless of layers 1-3.
func (v *Validator) checkKillSwitch(stats session.Stats) layerOutcome {
	if !v.trading.Enabled {
		return rejected("trading disabled by configuration")
	}
	if halt, reason := v.halter.ShouldHalt(); halt {
		return rejected("kill switch triggered: %s", reason)
	}
	ddFrac := v.ledger.DrawdownFraction(v.trading.WorkingCapitalUSD)
	if ddFrac*100 >= v.ks.MaxSessionDrawdownPct {
		return rejected("session drawdown %.1f%% at or above ceiling %.1f%%", ddFrac*100, v.ks.MaxSessionDrawdownPct)
	}
	if stats.ConsecutiveLosses >= v.ks.MaxConsecutiveLosses {
		return rejected("%d consecutive losses at or above limit %d", stats.ConsecutiveLosses, v.ks.MaxConsecutiveLosses)
	}
	return passing()
}

func agrees(action string, side risk.Side) bool {
	return (action == "buy" && side == risk.SideLong) || (action == "sell" && side == risk.SideShort)
}

func disagrees(action string, side risk.Side) bool {
	return (action == "buy" && side == risk.SideShort) || (action == "sell" && side == risk.SideLong)
}

func failedPrecondition(pre map[string]bool) (string, bool) {
	if len(pre) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(pre))
	for k := range pre {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !pre[k] {
			return k, true
		}
	}
	return "", false
}

func stale(observedAt, now time.Time, cadence time.Duration) bool {
	if cadence <= 0 || observedAt.IsZero() {
		return false
	}
	return now.Sub(observedAt) > cadence
}

func roundAge(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
