// Package volbreaker implements the per-asset volatility circuit breaker.
// It keeps a rolling candle window per symbol and trips when one tick's
// range blows past an ATR-scaled threshold or a hard percentage move.
package volbreaker

import (
	"math"
	"sync"
	"time"

	"riskgate/internal/logger"

	talib "github.com/markcheno/go-talib"
)

type Config struct {
	Window        int           // rolling candles kept per symbol
	ATRMultiplier float64       // trip when tick range > mult × ATR
	HardMovePct   float64       // trip when |move| exceeds this percent
	Cooldown      time.Duration // how long a trip stays in force
}

type symbolState struct {
	highs, lows, closes []float64
	lastPrice           float64
	trippedAt           time.Time
}

// Breaker is safe for concurrent use. Ticks arrive from the ingestion task
// while BreakerState is read by refresh and validation paths.
type Breaker struct {
	cfg Config

	mu      sync.Mutex
	symbols map[string]*symbolState
	nowFn   func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.Window < 15 {
		cfg.Window = 15
	}
	return &Breaker{
		cfg:     cfg,
		symbols: make(map[string]*symbolState),
		nowFn:   time.Now,
	}
}

// IngestTick records one observation and reports whether this tick tripped
// the breaker. Already-tripped symbols keep accumulating history but report
// false so the caller can distinguish a fresh trip from an ongoing one.
func (b *Breaker) IngestTick(symbol string, price, high, low float64) bool {
	if price <= 0 {
		return false
	}
	if high < price {
		high = price
	}
	if low <= 0 || low > price {
		low = price
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.symbols[symbol]
	if st == nil {
		st = &symbolState{}
		b.symbols[symbol] = st
	}

	prevPrice := st.lastPrice
	st.lastPrice = price
	st.highs = append(st.highs, high)
	st.lows = append(st.lows, low)
	st.closes = append(st.closes, price)
	if len(st.closes) > b.cfg.Window {
		st.highs = st.highs[1:]
		st.lows = st.lows[1:]
		st.closes = st.closes[1:]
	}

	now := b.nowFn()
	alreadyTripped := b.trippedLocked(st, now)

	tripped := false
	if prevPrice > 0 {
		movePct := math.Abs(price-prevPrice) / prevPrice * 100
		if movePct >= b.cfg.HardMovePct {
			tripped = true
		}
	}
	if !tripped && len(st.closes) > 15 {
		atr := talib.Atr(st.highs, st.lows, st.closes, 14)
		latest := atr[len(atr)-1]
		if latest > 0 && (high-low) > b.cfg.ATRMultiplier*latest {
			tripped = true
		}
	}

	if tripped && !alreadyTripped {
		st.trippedAt = now
		logger.Alertf("volatility breaker tripped for %s at price %.4f", symbol, price)
		return true
	}
	if tripped {
		// Extend the cooldown while volatility persists.
		st.trippedAt = now
	}
	return false
}

// BreakerState reports whether the symbol's breaker is currently in force.
func (b *Breaker) BreakerState(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.symbols[symbol]
	if st == nil {
		return false
	}
	return b.trippedLocked(st, b.nowFn())
}

func (b *Breaker) trippedLocked(st *symbolState, now time.Time) bool {
	if st.trippedAt.IsZero() {
		return false
	}
	if now.Sub(st.trippedAt) >= b.cfg.Cooldown {
		st.trippedAt = time.Time{}
		return false
	}
	return true
}
