// Package regimeclass classifies the market regime for the gate's primary
// symbol from recent candles: volatility first, then EMA trend direction.
package regimeclass

import (
	"context"
	"fmt"

	"riskgate/internal/gateway/binance"
	"riskgate/internal/risk"

	"github.com/markcheno/go-talib"
)

type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]binance.Candle, error)
}

type Config struct {
	Symbol         string
	Interval       string
	FastEMA        int
	SlowEMA        int
	ATRPeriod      int
	VolatileATRPct float64
	TrendBandPct   float64
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "4h"
	}
	if c.FastEMA <= 0 {
		c.FastEMA = 20
	}
	if c.SlowEMA <= 0 {
		c.SlowEMA = 60
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.VolatileATRPct <= 0 {
		c.VolatileATRPct = 4.0
	}
	if c.TrendBandPct <= 0 {
		c.TrendBandPct = 0.5
	}
	return c
}

// Classifier implements provider.RegimeProvider.
type Classifier struct {
	cfg    Config
	source CandleSource
}

func New(cfg Config, source CandleSource) *Classifier {
	return &Classifier{cfg: cfg.withDefaults(), source: source}
}

// Regime labels the market for symbol; an empty symbol falls back to the
// configured primary symbol for the market-wide view.
func (c *Classifier) Regime(ctx context.Context, symbol string) (risk.Regime, error) {
	if symbol == "" {
		symbol = c.cfg.Symbol
	}
	need := c.cfg.SlowEMA + c.cfg.ATRPeriod + 1
	candles, err := c.source.FetchCandles(ctx, symbol, c.cfg.Interval, need*2)
	if err != nil {
		return risk.RegimeSideways, err
	}
	if len(candles) < need {
		return risk.RegimeSideways, fmt.Errorf("%w: regime needs %d candles, got %d",
			risk.ErrProviderUnavailable, need, len(candles))
	}
	return c.classify(candles), nil
}

func (c *Classifier) classify(candles []binance.Candle) risk.Regime {
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, cd := range candles {
		highs[i], lows[i], closes[i] = cd.High, cd.Low, cd.Close
	}
	last := len(closes) - 1

	atr := talib.Atr(highs, lows, closes, c.cfg.ATRPeriod)
	if closes[last] > 0 && atr[last]/closes[last]*100 > c.cfg.VolatileATRPct {
		return risk.RegimeVolatile
	}

	fast := talib.Ema(closes, c.cfg.FastEMA)
	slow := talib.Ema(closes, c.cfg.SlowEMA)
	band := slow[last] * c.cfg.TrendBandPct / 100
	switch {
	case fast[last] > slow[last]+band:
		return risk.RegimeBull
	case fast[last] < slow[last]-band:
		return risk.RegimeBear
	default:
		return risk.RegimeSideways
	}
}
