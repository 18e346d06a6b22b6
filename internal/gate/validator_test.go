package gate

import (
	"context"
	"testing"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/provider"
	"riskgate/internal/risk"
	"riskgate/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshots struct {
	state    risk.State
	cadences map[provider.ID]time.Duration
}

func (f *fakeSnapshots) Snapshot() risk.State { return f.state.Clone() }

func (f *fakeSnapshots) Cadence(id provider.ID) time.Duration { return f.cadences[id] }

type fakeHalter struct {
	halted      bool
	reason      string
	emergencies []string
}

func (f *fakeHalter) ShouldHalt() (bool, string) { return f.halted, f.reason }

func (f *fakeHalter) TriggerEmergency(reason string) {
	f.emergencies = append(f.emergencies, reason)
	f.halted = true
	f.reason = reason
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{Enabled: true, WorkingCapitalUSD: 5000},
		Limits: config.LimitsConfig{
			MaxNotionalUSD:      415,
			MaxStopLossBps:      250,
			MaxConcurrentTrades: 3,
			MaxDailyLossUSD:     120,
		},
		Guards: config.GuardsConfig{
			CrowdedLongPct:    55,
			CrowdedShortPct:   55,
			FundingBiasMaxBps: 15,
			FundingSizeFactor: 0.6,
			OISpikeRatio:      0.25,
			OISizeFactor:      0.7,
			OIStopWidenFactor: 1.3,
		},
		Macro: config.MacroConfig{
			GreedSizeFactor:        0.5,
			BearShortSizeFactor:    0.8,
			ConsensusMinConfidence: 0.6,
			ConsensusBoost:         1.1,
			ConsensusShrinkFactor:  0.7,
			HealthEntryFloor:       2.5,
			HealthFlattenFloor:     2.0,
		},
		KillSwitch: config.KillSwitchConfig{
			MaxSessionDrawdownPct: 8,
			MaxConsecutiveLosses:  3,
			HealthCriticalFloor:   1.5,
		},
	}
}

func healthyState(now time.Time) risk.State {
	st := risk.NewState()
	st.Sentiment = risk.Stamped[risk.Sentiment]{Value: risk.SentimentNeutral, ObservedAt: now}
	st.Currency = risk.Stamped[risk.CurrencyStrength]{Value: risk.CurrencyRiskOn, ObservedAt: now}
	st.Regime = risk.Stamped[risk.Regime]{Value: risk.RegimeBull, ObservedAt: now}
	st.HealthFactor = risk.Stamped[float64]{Value: 3.0, ObservedAt: now}
	st.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{Value: risk.Positioning{LongPct: 48, ShortPct: 52}, ObservedAt: now}
	st.FundingBps["BTCUSDT"] = risk.Stamped[float64]{Value: 2, ObservedAt: now}
	st.OIChange["BTCUSDT"] = risk.Stamped[float64]{Value: 0.05, ObservedAt: now}
	return st
}

func newTestValidator(t *testing.T, mutate func(*config.Config, *risk.State)) (*Validator, *fakeSnapshots, *fakeHalter, *session.Ledger) {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cfg := testConfig()
	state := healthyState(now)
	if mutate != nil {
		mutate(cfg, &state)
	}
	snaps := &fakeSnapshots{
		state: state,
		cadences: map[provider.ID]time.Duration{
			provider.IDSentiment:   30 * time.Minute,
			provider.IDRegime:      15 * time.Minute,
			provider.IDDerivatives: 5 * time.Minute,
		},
	}
	halter := &fakeHalter{}
	ledger := session.NewLedger(nil, "utc", cfg.Limits.MaxConcurrentTrades)
	v := NewValidator(cfg, snaps, ledger, halter)
	v.nowFn = func() time.Time { return now }
	return v, snaps, halter, ledger
}

func longBTC(notional float64) risk.TradeRequest {
	return risk.NewTradeRequest("momentum", "BTCUSDT", risk.SideLong, notional, 100, 65000)
}

func TestValidateTradeCleanApprove(t *testing.T) {
	v, _, _, _ := newTestValidator(t, nil)

	res := v.ValidateTrade(longBTC(200))

	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 1.0, res.SizeAdjustment, 1e-9)
	assert.Empty(t, res.Warnings)
	assert.Nil(t, res.StopLossOverrideBps)
	assert.NotEmpty(t, res.TraceID)
}

func TestValidateTradeNotionalCeiling(t *testing.T) {
	v, _, _, _ := newTestValidator(t, nil)

	res := v.ValidateTrade(longBTC(1000))
	require.False(t, res.Approved)
	assert.Zero(t, res.SizeAdjustment)
	assert.Contains(t, res.Reason, "exceeds global maximum")

	// Exactly at the maximum still passes.
	res = v.ValidateTrade(longBTC(415))
	assert.True(t, res.Approved, "reason: %s", res.Reason)
}

func TestValidateTradeStopLossCeiling(t *testing.T) {
	v, _, _, _ := newTestValidator(t, nil)

	req := longBTC(200)
	req.StopLossBps = 251
	res := v.ValidateTrade(req)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "stop-loss")

	req.StopLossBps = 250
	assert.True(t, v.ValidateTrade(req).Approved)
}

func TestValidateTradeConcurrencyCap(t *testing.T) {
	v, _, _, ledger := newTestValidator(t, nil)
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		req := longBTC(100)
		require.NoError(t, ledger.OpenTrade(ctx, id, req), "open %d", i)
	}

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "concurrent open trades at cap")
}

func TestConcurrencyCapCannotBeRacedPast(t *testing.T) {
	v, _, _, ledger := newTestValidator(t, nil)
	ctx := context.Background()

	require.NoError(t, ledger.OpenTrade(ctx, "t1", longBTC(100)))
	require.NoError(t, ledger.OpenTrade(ctx, "t2", longBTC(100)))

	// Two admissions validated against the same below-cap count both pass,
	// but only one open can land: the ledger re-checks the cap under its own
	// lock.
	first := v.ValidateTrade(longBTC(100))
	second := v.ValidateTrade(longBTC(100))
	require.True(t, first.Approved, "reason: %s", first.Reason)
	require.True(t, second.Approved, "reason: %s", second.Reason)

	require.NoError(t, ledger.OpenTrade(ctx, "t3", longBTC(100)))
	err := ledger.OpenTrade(ctx, "t4", longBTC(100))
	assert.ErrorIs(t, err, risk.ErrConcurrencyCap)
	assert.Equal(t, 3, ledger.OpenCount())
}

func TestValidateTradeDailyLossCap(t *testing.T) {
	v, _, _, ledger := newTestValidator(t, nil)
	ctx := context.Background()

	require.NoError(t, ledger.OpenTrade(ctx, "t1", longBTC(100)))
	require.NoError(t, ledger.CloseTrade(ctx, "t1", decimal.NewFromInt(-120), true))

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "daily loss")
}

func TestValidateTradeMalformedRequest(t *testing.T) {
	v, _, _, _ := newTestValidator(t, nil)

	req := longBTC(100)
	req.Side = "sideways"
	res := v.ValidateTrade(req)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "invalid trade side")

	req = longBTC(-5)
	assert.False(t, v.ValidateTrade(req).Approved)
}

func TestValidateTradeFailedPrecondition(t *testing.T) {
	v, _, _, _ := newTestValidator(t, nil)

	req := longBTC(100).WithPreconditions(map[string]bool{"trend_confirmed": true, "volume_ok": false})
	res := v.ValidateTrade(req)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, `"volume_ok"`)
}

func TestValidateTradeCrowdedShort(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.Positioning["BTCUSDT"].ObservedAt
	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 40, ShortPct: 60}, ObservedAt: now,
	}

	req := risk.NewTradeRequest("meanrev", "BTCUSDT", risk.SideShort, 100, 100, 65000)
	res := v.ValidateTrade(req)
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "positioning guard")

	// The opposite side is unaffected by the short crowding.
	assert.True(t, v.ValidateTrade(longBTC(100)).Approved)
}

func TestValidateTradeCrowdedBoundary(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.Positioning["BTCUSDT"].ObservedAt
	// Exactly at the threshold rejects.
	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 55, ShortPct: 45}, ObservedAt: now,
	}
	assert.False(t, v.ValidateTrade(longBTC(100)).Approved)

	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 54.9, ShortPct: 45.1}, ObservedAt: now,
	}
	assert.True(t, v.ValidateTrade(longBTC(100)).Approved)
}

func TestValidateTradeBreakerBlocks(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Breakers["BTCUSDT"] = true

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "circuit breaker")
}

func TestValidateTradeFundingShrink(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.FundingBps["BTCUSDT"].ObservedAt
	snaps.state.FundingBps["BTCUSDT"] = risk.Stamped[float64]{Value: 20, ObservedAt: now}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.6, res.SizeAdjustment, 1e-9)
	assert.NotEmpty(t, res.Warnings)

	// Positive funding disfavors longs only; a short keeps full size.
	short := risk.NewTradeRequest("meanrev", "BTCUSDT", risk.SideShort, 100, 100, 65000)
	res = v.ValidateTrade(short)
	require.True(t, res.Approved)
	assert.InDelta(t, 1.0, res.SizeAdjustment, 1e-9)
}

func TestValidateTradeOISpikeWidensStop(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.OIChange["BTCUSDT"].ObservedAt
	snaps.state.OIChange["BTCUSDT"] = risk.Stamped[float64]{Value: 0.30, ObservedAt: now}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.7, res.SizeAdjustment, 1e-9)
	require.NotNil(t, res.StopLossOverrideBps)
	assert.InDelta(t, 130, *res.StopLossOverrideBps, 1e-9)
}

func TestValidateTradeStopWidenCappedAtMax(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.OIChange["BTCUSDT"].ObservedAt
	snaps.state.OIChange["BTCUSDT"] = risk.Stamped[float64]{Value: 0.30, ObservedAt: now}

	req := longBTC(100)
	req.StopLossBps = 240 // 240 × 1.3 = 312 > 250
	res := v.ValidateTrade(req)
	require.True(t, res.Approved, "reason: %s", res.Reason)
	require.NotNil(t, res.StopLossOverrideBps)
	assert.InDelta(t, 250, *res.StopLossOverrideBps, 1e-9)
}

func TestValidateTradePositioningBlockBeatsFundingShrink(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.Positioning["BTCUSDT"].ObservedAt
	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 70, ShortPct: 30}, ObservedAt: now,
	}
	snaps.state.FundingBps["BTCUSDT"] = risk.Stamped[float64]{Value: 50, ObservedAt: now}

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "positioning guard")
	assert.Zero(t, res.SizeAdjustment)
}

func TestValidateTradeStaleStructureWarnsOnly(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	old := snaps.state.Positioning["BTCUSDT"].ObservedAt.Add(-20 * time.Minute)
	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 48, ShortPct: 52}, ObservedAt: old,
	}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "positioning data")
}

func TestValidateTradeExtremeGreedBlocks(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Sentiment.Value = risk.SentimentExtremeGreed

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "extreme greed")
}

func TestValidateTradeGreedShrinks(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Sentiment.Value = risk.SentimentGreed

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.5, res.SizeAdjustment, 1e-9)
}

func TestValidateTradeRiskOffBlocks(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Currency.Value = risk.CurrencyRiskOff

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "risk-off")
}

func TestValidateTradeBearRegime(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Regime.Value = risk.RegimeBear

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "bear regime")

	short := risk.NewTradeRequest("meanrev", "BTCUSDT", risk.SideShort, 100, 100, 65000)
	res = v.ValidateTrade(short)
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.8, res.SizeAdjustment, 1e-9)
}

func TestValidateTradeConsensusBoostAndShrink(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.HealthFactor.ObservedAt

	snaps.state.Consensus["BTCUSDT"] = risk.Stamped[risk.Consensus]{
		Value: risk.Consensus{Action: "buy", Score: 0.8, Confidence: 0.9}, ObservedAt: now,
	}
	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 1.1, res.SizeAdjustment, 1e-9)
	assert.LessOrEqual(t, res.SizeAdjustment, 1.15)

	snaps.state.Consensus["BTCUSDT"] = risk.Stamped[risk.Consensus]{
		Value: risk.Consensus{Action: "sell", Score: -0.8, Confidence: 0.9}, ObservedAt: now,
	}
	res = v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.7, res.SizeAdjustment, 1e-9)
}

func TestValidateTradeLowConfidenceConsensusIgnored(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.HealthFactor.ObservedAt
	snaps.state.Consensus["BTCUSDT"] = risk.Stamped[risk.Consensus]{
		Value: risk.Consensus{Action: "sell", Score: -0.8, Confidence: 0.4}, ObservedAt: now,
	}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 1.0, res.SizeAdjustment, 1e-9)
}

func TestValidateTradeHealthFloors(t *testing.T) {
	v, snaps, halter, _ := newTestValidator(t, nil)
	now := snaps.state.HealthFactor.ObservedAt

	// Below the entry floor but above the flatten floor: reject only.
	snaps.state.HealthFactor = risk.Stamped[float64]{Value: 2.2, ObservedAt: now}
	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "entry floor")
	assert.Empty(t, halter.emergencies)

	// Exactly at the entry floor passes.
	snaps.state.HealthFactor = risk.Stamped[float64]{Value: 2.5, ObservedAt: now}
	assert.True(t, v.ValidateTrade(longBTC(100)).Approved)
}

func TestValidateTradeHealthFlattenFloorSignalsEmergency(t *testing.T) {
	v, snaps, halter, _ := newTestValidator(t, nil)
	now := snaps.state.HealthFactor.ObservedAt
	snaps.state.HealthFactor = risk.Stamped[float64]{Value: 1.9, ObservedAt: now}

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "flatten floor")
	require.Len(t, halter.emergencies, 1)
	assert.Contains(t, halter.emergencies[0], "1.90")
}

func TestValidateTradeNeverObservedHealthWarns(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.HealthFactor = risk.Stamped[float64]{}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "never been observed")
}

func TestValidateTradeConsecutiveLossLimit(t *testing.T) {
	v, _, _, ledger := newTestValidator(t, nil)
	ctx := context.Background()

	for _, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, ledger.OpenTrade(ctx, id, longBTC(50)))
		require.NoError(t, ledger.CloseTrade(ctx, id, decimal.NewFromInt(-10), true))
	}

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "consecutive losses")
}

func TestValidateTradeDrawdownCeiling(t *testing.T) {
	v, _, _, ledger := newTestValidator(t, nil)
	ctx := context.Background()

	// 400 / 5000 = 8%, at the ceiling. Daily-loss cap would fire first at
	// layer 1, so push the cap out of the way for this case.
	v.limits.MaxDailyLossUSD = 10000
	require.NoError(t, ledger.OpenTrade(ctx, "dd", longBTC(400)))
	require.NoError(t, ledger.CloseTrade(ctx, "dd", decimal.NewFromInt(-400), false))

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "drawdown")
}

func TestValidateTradeKillSwitchDominates(t *testing.T) {
	v, _, halter, _ := newTestValidator(t, nil)
	halter.halted = true
	halter.reason = "collateral health 1.40 below critical floor 1.50"

	res := v.ValidateTrade(longBTC(1))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "kill switch triggered")
}

func TestValidateTradeTradingDisabled(t *testing.T) {
	v, _, _, _ := newTestValidator(t, func(cfg *config.Config, _ *risk.State) {
		cfg.Trading.Enabled = false
	})

	res := v.ValidateTrade(longBTC(100))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "trading disabled")
}

func TestValidateTradeShortCircuitsOnFirstReject(t *testing.T) {
	// Hard-limit breach plus a tripped breaker: the layer-1 reason must win
	// and the structural reason must never surface.
	v, snaps, _, _ := newTestValidator(t, nil)
	snaps.state.Breakers["BTCUSDT"] = true

	res := v.ValidateTrade(longBTC(1000))
	require.False(t, res.Approved)
	assert.Contains(t, res.Reason, "exceeds global maximum")
	assert.NotContains(t, res.Reason, "circuit breaker")
}

func TestSetGuardsSwapsAtomically(t *testing.T) {
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.Positioning["BTCUSDT"].ObservedAt
	snaps.state.Positioning["BTCUSDT"] = risk.Stamped[risk.Positioning]{
		Value: risk.Positioning{LongPct: 58, ShortPct: 42}, ObservedAt: now,
	}

	require.False(t, v.ValidateTrade(longBTC(100)).Approved)

	relaxed := testConfig().Guards
	relaxed.CrowdedLongPct = 65
	v.SetGuards(relaxed)

	assert.True(t, v.ValidateTrade(longBTC(100)).Approved)
}

func TestValidateTradeAdjustmentBounds(t *testing.T) {
	// Stack every shrink at once: greed × funding × OI × consensus disagree.
	v, snaps, _, _ := newTestValidator(t, nil)
	now := snaps.state.HealthFactor.ObservedAt
	snaps.state.Sentiment.Value = risk.SentimentGreed
	snaps.state.FundingBps["BTCUSDT"] = risk.Stamped[float64]{Value: 30, ObservedAt: now}
	snaps.state.OIChange["BTCUSDT"] = risk.Stamped[float64]{Value: 0.4, ObservedAt: now}
	snaps.state.Consensus["BTCUSDT"] = risk.Stamped[risk.Consensus]{
		Value: risk.Consensus{Action: "sell", Score: -0.9, Confidence: 0.95}, ObservedAt: now,
	}

	res := v.ValidateTrade(longBTC(100))
	require.True(t, res.Approved, "reason: %s", res.Reason)
	assert.InDelta(t, 0.6*0.7*0.5*0.7, res.SizeAdjustment, 1e-9)
	assert.Greater(t, res.SizeAdjustment, 0.0)
	assert.LessOrEqual(t, res.SizeAdjustment, 1.15)
	assert.GreaterOrEqual(t, len(res.Warnings), 3)
}
