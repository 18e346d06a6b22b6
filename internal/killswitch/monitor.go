// Package killswitch runs the background halt monitor. Once triggered it
// stays triggered until a manual reset, forces the gate's final layer to
// reject everything, and fires the emergency-flatten callback exactly once
// per trigger event.
package killswitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/logger"
	"riskgate/internal/metrics"
	"riskgate/internal/provider"
	"riskgate/internal/risk"
)

type State int

const (
	StateArmed State = iota
	StateTriggered
)

func (s State) String() string {
	if s == StateTriggered {
		return "TRIGGERED"
	}
	return "ARMED"
}

// SignalSource is the slice of the aggregator the monitor watches.
type SignalSource interface {
	Snapshot() risk.State
	FeedAges() map[provider.ID]time.Duration
	Cadence(id provider.ID) time.Duration
}

// FlattenFunc closes all open positions. It is external to this core; the
// monitor only guarantees it runs once per trigger.
type FlattenFunc func(ctx context.Context, reason string) error

type Monitor struct {
	cfg     config.KillSwitchConfig
	signals SignalSource
	flatten FlattenFunc

	mu          sync.Mutex
	state       State
	reason      string
	triggeredAt time.Time
	nowFn       func() time.Time
}

func NewMonitor(cfg config.KillSwitchConfig, signals SignalSource, flatten FlattenFunc) *Monitor {
	return &Monitor{
		cfg:     cfg,
		signals: signals,
		flatten: flatten,
		state:   StateArmed,
		nowFn:   time.Now,
	}
}

// Run polls the halt conditions until ctx is done. It cancels nothing
// itself; it only flips the shared state other components observe.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Infof("kill switch armed: health floor=%.2f poll=%s", m.cfg.HealthCriticalFloor, interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check evaluates the halt conditions once. Exported so tests and the run
// loop share the exact same path.
func (m *Monitor) Check(ctx context.Context) {
	m.mu.Lock()
	alreadyTriggered := m.state == StateTriggered
	m.mu.Unlock()
	if alreadyTriggered {
		return
	}

	snap := m.signals.Snapshot()
	if !snap.HealthFactor.ObservedAt.IsZero() && snap.HealthFactor.Value < m.cfg.HealthCriticalFloor {
		m.trigger(ctx, fmt.Sprintf("collateral health factor %.2f below critical floor %.2f",
			snap.HealthFactor.Value, m.cfg.HealthCriticalFloor))
		return
	}

	for id, age := range m.signals.FeedAges() {
		budget := time.Duration(float64(m.signals.Cadence(id)) * m.cfg.StaleBudgetMultiplier)
		if budget > 0 && age > budget {
			m.trigger(ctx, fmt.Sprintf("%s feed stale for %s (budget %s)", id, age.Round(time.Second), budget))
			return
		}
	}
}

// TriggerEmergency is the external trigger path (the gate's flatten-floor
// rule). Idempotent while already triggered.
func (m *Monitor) TriggerEmergency(reason string) {
	m.trigger(context.Background(), reason)
}

func (m *Monitor) trigger(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.state == StateTriggered {
		m.mu.Unlock()
		return
	}
	m.state = StateTriggered
	m.reason = reason
	m.triggeredAt = m.nowFn()
	flatten := m.flatten
	m.mu.Unlock()

	metrics.KillSwitchTrips.Inc()
	logger.Alertf("kill switch triggered: %s", reason)

	if flatten != nil {
		if err := flatten(ctx, reason); err != nil {
			logger.Errorf("emergency flatten callback failed: %v", err)
		}
	}
}

// ShouldHalt reports the halt state and the reason it was entered.
func (m *Monitor) ShouldHalt() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateTriggered, m.reason
}

// Reset re-arms the switch. Manual operation only; nothing in this process
// calls it automatically.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateTriggered {
		logger.Warnf("kill switch manually reset (was triggered at %s: %s)",
			m.triggeredAt.Format(time.RFC3339), m.reason)
	}
	m.state = StateArmed
	m.reason = ""
	m.triggeredAt = time.Time{}
}
