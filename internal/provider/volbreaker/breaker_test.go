package volbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	b := New(Config{
		Window:        30,
		ATRMultiplier: 3.0,
		HardMovePct:   5.0,
		Cooldown:      15 * time.Minute,
	})
	b.nowFn = func() time.Time { return now }
	return b, &now
}

func feedCalm(b *Breaker, symbol string, base float64, n int) {
	for i := 0; i < n; i++ {
		price := base + float64(i%3)
		b.IngestTick(symbol, price, price+1, price-1)
	}
}

func TestBreakerStartsQuiet(t *testing.T) {
	b, _ := testBreaker()
	feedCalm(b, "BTCUSDT", 65000, 20)
	assert.False(t, b.BreakerState("BTCUSDT"))
}

func TestBreakerTripsOnHardMove(t *testing.T) {
	b, _ := testBreaker()
	b.IngestTick("BTCUSDT", 65000, 65001, 64999)

	// A 6% jump trips immediately regardless of ATR history.
	fresh := b.IngestTick("BTCUSDT", 68900, 68901, 64999)
	assert.True(t, fresh)
	assert.True(t, b.BreakerState("BTCUSDT"))
}

func TestBreakerTripsOnATRRangeBlowout(t *testing.T) {
	b, _ := testBreaker()
	feedCalm(b, "BTCUSDT", 65000, 25)

	// Same close (no hard move) but a candle range far beyond 3×ATR.
	fresh := b.IngestTick("BTCUSDT", 65001, 66500, 63500)
	assert.True(t, fresh)
	assert.True(t, b.BreakerState("BTCUSDT"))
}

func TestBreakerFreshTripReportedOnce(t *testing.T) {
	b, _ := testBreaker()
	b.IngestTick("BTCUSDT", 65000, 65001, 64999)

	require.True(t, b.IngestTick("BTCUSDT", 69000, 69001, 64999))
	// Another violent tick while already tripped extends, not re-fires.
	assert.False(t, b.IngestTick("BTCUSDT", 73000, 73001, 68999))
	assert.True(t, b.BreakerState("BTCUSDT"))
}

func TestBreakerCooldownExpires(t *testing.T) {
	b, now := testBreaker()
	b.IngestTick("BTCUSDT", 65000, 65001, 64999)
	require.True(t, b.IngestTick("BTCUSDT", 69000, 69001, 64999))

	*now = now.Add(14 * time.Minute)
	assert.True(t, b.BreakerState("BTCUSDT"))

	*now = now.Add(2 * time.Minute)
	assert.False(t, b.BreakerState("BTCUSDT"))
}

func TestBreakerSymbolsAreIndependent(t *testing.T) {
	b, _ := testBreaker()
	b.IngestTick("BTCUSDT", 65000, 65001, 64999)
	b.IngestTick("ETHUSDT", 3000, 3001, 2999)

	require.True(t, b.IngestTick("BTCUSDT", 69000, 69001, 64999))
	assert.True(t, b.BreakerState("BTCUSDT"))
	assert.False(t, b.BreakerState("ETHUSDT"))
}

func TestBreakerIgnoresBadTicks(t *testing.T) {
	b, _ := testBreaker()
	assert.False(t, b.IngestTick("BTCUSDT", 0, 1, 1))
	assert.False(t, b.IngestTick("BTCUSDT", -5, 1, 1))
	assert.False(t, b.BreakerState("BTCUSDT"))
}
