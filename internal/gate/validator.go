// Package gate implements the trade admission gate: four ordered validation
// layers over a risk-state snapshot and the session ledger. The validator is
// synchronous and performs no I/O; everything it reads was materialized by
// background refresh tasks beforehand.
package gate

import (
	"fmt"
	"sync/atomic"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/logger"
	"riskgate/internal/metrics"
	"riskgate/internal/provider"
	"riskgate/internal/risk"
	"riskgate/internal/session"

	"github.com/google/uuid"
)

// Layer names used in rejection bookkeeping and metrics labels.
const (
	LayerHardLimits = "hard_limits"
	LayerStructure  = "structure"
	LayerMacro      = "macro"
	LayerKillSwitch = "killswitch"
)

// SnapshotSource hands the validator an immutable state copy plus the
// expected refresh cadence per provider, which drives staleness warnings.
type SnapshotSource interface {
	Snapshot() risk.State
	Cadence(id provider.ID) time.Duration
}

// Halter is the kill-switch surface the gate needs: the current halt state,
// and a way to signal the flatten-floor emergency from layer 3.
type Halter interface {
	ShouldHalt() (bool, string)
	TriggerEmergency(reason string)
}

type Validator struct {
	limits  config.LimitsConfig
	macro   config.MacroConfig
	ks      config.KillSwitchConfig
	trading config.TradingConfig
	guards  atomic.Pointer[config.GuardsConfig]

	snapshots SnapshotSource
	ledger    *session.Ledger
	halter    Halter
	nowFn     func() time.Time
}

func NewValidator(cfg *config.Config, snapshots SnapshotSource, ledger *session.Ledger, halter Halter) *Validator {
	v := &Validator{
		limits:    cfg.Limits,
		macro:     cfg.Macro,
		ks:        cfg.KillSwitch,
		trading:   cfg.Trading,
		snapshots: snapshots,
		ledger:    ledger,
		halter:    halter,
		nowFn:     time.Now,
	}
	guards := cfg.Guards
	v.guards.Store(&guards)
	return v
}

// SetGuards swaps the structural guard thresholds atomically. Used by the
// overrides watcher; in-flight validations keep the set they started with.
func (v *Validator) SetGuards(g config.GuardsConfig) {
	v.guards.Store(&g)
	logger.Infof("gate: structural guard thresholds updated")
}

// layerOutcome is what each layer contributes: either a rejection reason or
// a multiplicative size adjustment plus warnings.
type layerOutcome struct {
	rejected     bool
	reason       string
	multiplier   float64
	stopOverride *float64
	warnings     []string
}

func passing() layerOutcome { return layerOutcome{multiplier: 1.0} }

func rejected(format string, args ...any) layerOutcome {
	return layerOutcome{rejected: true, reason: fmt.Sprintf(format, args...), multiplier: 0}
}

func (o *layerOutcome) shrink(factor float64, format string, args ...any) {
	o.multiplier *= factor
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}

func (o *layerOutcome) warn(format string, args ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, args...))
}

// ValidateTrade runs the four layers in strict order. The first rejecting
// layer short-circuits: its reason is returned alone and no later layer
// runs. Only when all four pass is the accumulated multiplier returned.
func (v *Validator) ValidateTrade(req risk.TradeRequest) risk.ValidationResult {
	traceID := req.ID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	if bad := malformed(req); bad != "" {
		return v.finishReject(traceID, LayerHardLimits, bad)
	}

	snap := v.snapshots.Snapshot()
	stats := v.ledger.Stats()

	multiplier := 1.0
	var warnings []string
	var stopOverride *float64

	layers := []struct {
		name string
		eval func() layerOutcome
	}{
		{LayerHardLimits, func() layerOutcome { return v.checkHardLimits(req, stats) }},
		{LayerStructure, func() layerOutcome { return v.checkStructure(req, snap) }},
		{LayerMacro, func() layerOutcome { return v.checkMacro(req, snap) }},
		{LayerKillSwitch, func() layerOutcome { return v.checkKillSwitch(stats) }},
	}
	for _, layer := range layers {
		out := layer.eval()
		if out.rejected {
			return v.finishReject(traceID, layer.name, out.reason)
		}
		multiplier *= out.multiplier
		warnings = append(warnings, out.warnings...)
		if out.stopOverride != nil {
			stopOverride = out.stopOverride
		}
	}

	if multiplier <= 0 {
		return v.finishReject(traceID, LayerMacro, "size adjustment reduced to zero")
	}
	metrics.ValidationsTotal.WithLabelValues("approved", "none").Inc()
	logger.Infof("gate: approved %s %s %s notional=%.2f adj=%.3f warnings=%d",
		req.Strategy, req.Side, req.Symbol, req.NotionalUSD, multiplier, len(warnings))
	return risk.Approve(traceID, multiplier, stopOverride, warnings)
}

func (v *Validator) finishReject(traceID, layer, reason string) risk.ValidationResult {
	metrics.ValidationsTotal.WithLabelValues("rejected", layer).Inc()
	logger.Infof("gate: rejected [%s] %s", layer, reason)
	return risk.Reject(traceID, reason)
}

func malformed(req risk.TradeRequest) string {
	switch {
	case !req.Side.Valid():
		return fmt.Sprintf("invalid trade side %q", req.Side)
	case req.Symbol == "":
		return "trade request missing symbol"
	case req.NotionalUSD <= 0:
		return fmt.Sprintf("notional must be positive, got %.2f", req.NotionalUSD)
	case req.StopLossBps <= 0:
		return fmt.Sprintf("stop-loss distance must be positive, got %.1f bps", req.StopLossBps)
	default:
		return ""
	}
}
