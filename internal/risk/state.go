package risk

import "time"

// Stamped pairs a signal value with the time it was observed. A zero
// ObservedAt means the signal has never been fetched successfully.
type Stamped[T any] struct {
	Value      T
	ObservedAt time.Time
}

// Age returns how old the observation is relative to now. Never-observed
// values report a very large age so staleness checks treat them as stale.
func (s Stamped[T]) Age(now time.Time) time.Duration {
	if s.ObservedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(s.ObservedAt)
}

// State is a point-in-time copy of every cached risk signal. The aggregator
// owns the live cache; everything else only ever sees one of these copies,
// so a validation call can never observe half-old/half-new fields.
type State struct {
	Breakers     map[string]bool
	Sentiment    Stamped[Sentiment]
	Currency     Stamped[CurrencyStrength]
	Regime       Stamped[Regime]
	Flows        map[string]Stamped[Flow]
	Consensus    map[string]Stamped[Consensus]
	Positioning  map[string]Stamped[Positioning]
	FundingBps   map[string]Stamped[float64] // positive: longs pay shorts
	OIChange     map[string]Stamped[float64] // fractional change over the lookback window
	HealthFactor Stamped[float64]
	TakenAt      time.Time
}

// NewState returns an empty state with all maps allocated.
func NewState() State {
	return State{
		Breakers:    make(map[string]bool),
		Flows:       make(map[string]Stamped[Flow]),
		Consensus:   make(map[string]Stamped[Consensus]),
		Positioning: make(map[string]Stamped[Positioning]),
		FundingBps:  make(map[string]Stamped[float64]),
		OIChange:    make(map[string]Stamped[float64]),
	}
}

// Clone deep-copies the state, map contents included.
func (s State) Clone() State {
	cp := s
	cp.Breakers = make(map[string]bool, len(s.Breakers))
	for k, v := range s.Breakers {
		cp.Breakers[k] = v
	}
	cp.Flows = make(map[string]Stamped[Flow], len(s.Flows))
	for k, v := range s.Flows {
		cp.Flows[k] = v
	}
	cp.Consensus = make(map[string]Stamped[Consensus], len(s.Consensus))
	for k, v := range s.Consensus {
		cp.Consensus[k] = v
	}
	cp.Positioning = make(map[string]Stamped[Positioning], len(s.Positioning))
	for k, v := range s.Positioning {
		cp.Positioning[k] = v
	}
	cp.FundingBps = make(map[string]Stamped[float64], len(s.FundingBps))
	for k, v := range s.FundingBps {
		cp.FundingBps[k] = v
	}
	cp.OIChange = make(map[string]Stamped[float64], len(s.OIChange))
	for k, v := range s.OIChange {
		cp.OIChange[k] = v
	}
	return cp
}

// SentimentOrUnknown treats a never-fetched sentiment as unknown so the gate
// does not have to special-case the empty string.
func (s State) SentimentOrUnknown() Sentiment {
	if s.Sentiment.Value == "" {
		return SentimentUnknown
	}
	return s.Sentiment.Value
}

func (s State) CurrencyOrUnknown() CurrencyStrength {
	if s.Currency.Value == "" {
		return CurrencyUnknown
	}
	return s.Currency.Value
}

func (s State) RegimeOrUnknown() Regime {
	if s.Regime.Value == "" {
		return RegimeUnknown
	}
	return s.Regime.Value
}
