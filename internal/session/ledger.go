// Package session owns per-session trading-activity counters: realized
// P&L, open trades, consecutive losses and day-bounded rollups. The ledger
// is the single writer for all of them; everything else reads.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskgate/internal/logger"
	"riskgate/internal/metrics"
	"riskgate/internal/risk"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	StatusOpen   TradeStatus = "open"
	StatusClosed TradeStatus = "closed"
)

type TradeRecord struct {
	ID          string
	Strategy    string
	Symbol      string
	Side        risk.Side
	NotionalUSD decimal.Decimal
	EntryPrice  decimal.Decimal
	StopLossBps float64
	Status      TradeStatus
	RealizedPnL decimal.Decimal
	WasLoss     bool
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Stats is the read-only diagnostics view surfaced to callers.
type Stats struct {
	SessionPnLUSD     float64
	OpenTrades        int
	DailyTrades       int
	DailyLossUSD      float64 // positive magnitude of today's realized losses
	ConsecutiveLosses int
	SessionStart      time.Time
}

// Store persists the append-only trade-record log. Implementations must
// tolerate being nil-checked away: the ledger works memory-only without one.
type Store interface {
	SaveOpen(ctx context.Context, rec TradeRecord) error
	SaveClose(ctx context.Context, rec TradeRecord) error
	LoadActive(ctx context.Context, since time.Time) ([]TradeRecord, error)
	// LoadRecentCloses returns the most recently closed records, newest
	// first, at most limit of them.
	LoadRecentCloses(ctx context.Context, limit int) ([]TradeRecord, error)
}

// recentCloseWindow bounds the trailing-close lookback on recovery. The loss
// streak only needs the closes since the last win, and the halt limit trips
// long before this many.
const recentCloseWindow = 32

// Ledger is mutated only through OpenTrade and CloseTrade; both serialize on
// an internal mutex. OpenTrade enforces the concurrency cap under that same
// lock, so two admissions racing each other cannot both slip past it.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*TradeRecord

	realized          decimal.Decimal
	consecutiveLosses int
	sessionStart      time.Time
	maxOpen           int

	store  Store
	dayLoc *time.Location
	nowFn  func() time.Time
}

// NewLedger builds a ledger capping open trades at maxOpen; zero means
// uncapped.
func NewLedger(store Store, dayBoundary string, maxOpen int) *Ledger {
	loc := time.UTC
	if dayBoundary == "local" {
		loc = time.Local
	}
	l := &Ledger{
		records: make(map[string]*TradeRecord),
		store:   store,
		dayLoc:  loc,
		maxOpen: maxOpen,
		nowFn:   time.Now,
	}
	l.sessionStart = l.nowFn()
	return l
}

// Recover rebuilds in-memory state from the store: open trades plus today's
// closed ones for the daily rollups, and the loss streak from the trailing
// closes regardless of day, so a streak built before midnight survives a
// restart after it.
func (l *Ledger) Recover(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	since := dayStart(l.nowFn(), l.dayLoc)
	recs, err := l.store.LoadActive(ctx, since)
	if err != nil {
		return fmt.Errorf("session recovery failed: %w", err)
	}
	l.records = make(map[string]*TradeRecord, len(recs))
	l.realized = decimal.Zero
	for i := range recs {
		rec := recs[i]
		l.records[rec.ID] = &rec
		if rec.Status == StatusClosed {
			l.realized = l.realized.Add(rec.RealizedPnL)
		}
	}
	// The loss streak is the run of losing closes since the last win. It is
	// never reset by time alone, so it cannot be derived from today's
	// records.
	recent, err := l.store.LoadRecentCloses(ctx, recentCloseWindow)
	if err != nil {
		return fmt.Errorf("session recovery failed: %w", err)
	}
	l.consecutiveLosses = 0
	for _, rec := range recent {
		if !rec.WasLoss {
			break
		}
		l.consecutiveLosses++
	}
	l.publishGauges()
	logger.Infof("session ledger recovered: %d records, pnl=%s, loss_streak=%d",
		len(recs), l.realized.StringFixed(2), l.consecutiveLosses)
	return nil
}

// OpenTrade appends an open record for an admitted trade. The concurrency
// cap is re-checked here, under the same lock that admits the record, so an
// admission validated against a stale count still cannot exceed it.
func (l *Ledger) OpenTrade(ctx context.Context, id string, req risk.TradeRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[id]; exists {
		return fmt.Errorf("%w: %s", risk.ErrDuplicateOpen, id)
	}
	if open := l.openCountLocked(); l.maxOpen > 0 && open >= l.maxOpen {
		return fmt.Errorf("%w (%d/%d)", risk.ErrConcurrencyCap, open, l.maxOpen)
	}
	rec := &TradeRecord{
		ID:          id,
		Strategy:    req.Strategy,
		Symbol:      req.Symbol,
		Side:        req.Side,
		NotionalUSD: decimal.NewFromFloat(req.NotionalUSD),
		EntryPrice:  decimal.NewFromFloat(req.EntryPrice),
		StopLossBps: req.StopLossBps,
		Status:      StatusOpen,
		OpenedAt:    l.nowFn(),
	}
	l.records[id] = rec
	l.publishGauges()
	if l.store != nil {
		if err := l.store.SaveOpen(ctx, *rec); err != nil {
			logger.Warnf("session store: persisting open %s failed: %v", id, err)
		}
	}
	return nil
}

// CloseTrade settles a trade. A second close of the same id is an explicit
// error and mutates nothing: P&L and the loss streak move exactly once.
func (l *Ledger) CloseTrade(ctx context.Context, id string, realizedPnL decimal.Decimal, wasLoss bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", risk.ErrUnknownTrade, id)
	}
	if rec.Status == StatusClosed {
		return fmt.Errorf("%w: %s", risk.ErrDuplicateClose, id)
	}
	rec.Status = StatusClosed
	rec.RealizedPnL = realizedPnL
	rec.WasLoss = wasLoss
	rec.ClosedAt = l.nowFn()

	l.realized = l.realized.Add(realizedPnL)
	if wasLoss {
		l.consecutiveLosses++
	} else {
		l.consecutiveLosses = 0
	}
	l.publishGauges()
	if l.store != nil {
		if err := l.store.SaveClose(ctx, *rec); err != nil {
			logger.Warnf("session store: persisting close %s failed: %v", id, err)
		}
	}
	return nil
}

// OpenCount reports currently open trades.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openCountLocked()
}

func (l *Ledger) openCountLocked() int {
	n := 0
	for _, rec := range l.records {
		if rec.Status == StatusOpen {
			n++
		}
	}
	return n
}

// ConsecutiveLosses reports the current losing streak. It resets on any
// winning close and is never decremented by time alone.
func (l *Ledger) ConsecutiveLosses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutiveLosses
}

// SessionPnLUSD reports realized session P&L.
func (l *Ledger) SessionPnLUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, _ := l.realized.Float64()
	return f
}

// DrawdownFraction reports session loss as a fraction of working capital,
// zero when the session is flat or positive.
func (l *Ledger) DrawdownFraction(workingCapitalUSD float64) float64 {
	if workingCapitalUSD <= 0 {
		return 0
	}
	pnl := l.SessionPnLUSD()
	if pnl >= 0 {
		return 0
	}
	return -pnl / workingCapitalUSD
}

// Stats derives the daily counters by filtering the record log against the
// day boundary instead of keeping separate counters, so a retried open or
// close can never double-count.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	boundary := dayStart(now, l.dayLoc)

	st := Stats{
		ConsecutiveLosses: l.consecutiveLosses,
		SessionStart:      l.sessionStart,
	}
	st.SessionPnLUSD, _ = l.realized.Float64()

	dailyLoss := decimal.Zero
	for _, rec := range l.records {
		if rec.Status == StatusOpen {
			st.OpenTrades++
		}
		if !rec.OpenedAt.Before(boundary) {
			st.DailyTrades++
		}
		if rec.Status == StatusClosed && !rec.ClosedAt.Before(boundary) && rec.RealizedPnL.IsNegative() {
			dailyLoss = dailyLoss.Add(rec.RealizedPnL.Neg())
		}
	}
	st.DailyLossUSD, _ = dailyLoss.Float64()
	return st
}

func (l *Ledger) publishGauges() {
	pnl, _ := l.realized.Float64()
	metrics.SessionPnL.Set(pnl)
	metrics.ConsecutiveLosses.Set(float64(l.consecutiveLosses))
	metrics.OpenTrades.Set(float64(l.openCountLocked()))
}

func dayStart(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}
