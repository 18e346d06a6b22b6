// Package binance adapts the Binance futures API to the provider
// capabilities the aggregator consumes: crowd positioning, funding bias,
// open-interest drift, and raw price ticks for the volatility breaker.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskgate/internal/risk"

	"github.com/adshao/go-binance/v2/futures"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	OIPeriod    string // e.g. "5m"
	OILookback  int    // candles of OI history to compare across
	KlineLimit  int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.OIPeriod == "" {
		c.OIPeriod = "5m"
	}
	if c.OILookback <= 1 {
		c.OILookback = 12
	}
	if c.KlineLimit <= 0 {
		c.KlineLimit = 120
	}
	return c
}

// Source implements provider.DerivativesProvider and provider.TickSource.
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	if url := strings.TrimSpace(final.RESTBaseURL); url != "" {
		client.BaseURL = url
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

// Positioning returns the latest global long/short account split in percent.
func (s *Source) Positioning(ctx context.Context, symbol string) (risk.Positioning, error) {
	rows, err := s.client.NewLongShortRatioService().
		Symbol(cleanSymbol(symbol)).
		Period(s.cfg.OIPeriod).
		Limit(1).
		Do(ctx)
	if err != nil {
		return risk.Positioning{}, fmt.Errorf("%w: long/short ratio: %v", risk.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return risk.Positioning{}, fmt.Errorf("%w: empty long/short ratio response", risk.ErrProviderUnavailable)
	}
	latest := rows[len(rows)-1]
	longAcc, err1 := strconv.ParseFloat(latest.LongAccount, 64)
	shortAcc, err2 := strconv.ParseFloat(latest.ShortAccount, 64)
	if err1 != nil || err2 != nil {
		return risk.Positioning{}, fmt.Errorf("%w: malformed long/short ratio payload", risk.ErrProviderUnavailable)
	}
	// Binance reports account shares as fractions of 1.
	return risk.Positioning{LongPct: longAcc * 100, ShortPct: shortAcc * 100}, nil
}

// FundingBiasBps returns the latest funding rate in basis points; positive
// means longs pay shorts.
func (s *Source) FundingBiasBps(ctx context.Context, symbol string) (float64, error) {
	rows, err := s.client.NewPremiumIndexService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: premium index: %v", risk.ErrProviderUnavailable, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty premium index response", risk.ErrProviderUnavailable)
	}
	rate, err := strconv.ParseFloat(rows[0].LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed funding rate %q", risk.ErrProviderUnavailable, rows[0].LastFundingRate)
	}
	return rate * 10000, nil
}

// OpenInterestChange returns the fractional OI change across the lookback
// window, e.g. 0.25 for a 25% rise.
func (s *Source) OpenInterestChange(ctx context.Context, symbol string) (float64, error) {
	rows, err := s.client.NewOpenInterestStatisticsService().
		Symbol(cleanSymbol(symbol)).
		Period(s.cfg.OIPeriod).
		Limit(s.cfg.OILookback).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: open interest stats: %v", risk.ErrProviderUnavailable, err)
	}
	if len(rows) < 2 {
		return 0, fmt.Errorf("%w: not enough open interest history", risk.ErrProviderUnavailable)
	}
	first, err1 := strconv.ParseFloat(rows[0].SumOpenInterestValue, 64)
	last, err2 := strconv.ParseFloat(rows[len(rows)-1].SumOpenInterestValue, 64)
	if err1 != nil || err2 != nil || first <= 0 {
		return 0, fmt.Errorf("%w: malformed open interest payload", risk.ErrProviderUnavailable)
	}
	return (last - first) / first, nil
}

// LatestTick returns the newest kline's close/high/low for breaker feeding.
func (s *Source) LatestTick(ctx context.Context, symbol string) (price, high, low float64, err error) {
	kls, err := s.client.NewKlinesService().
		Symbol(cleanSymbol(symbol)).
		Interval("1m").
		Limit(1).
		Do(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: klines: %v", risk.ErrProviderUnavailable, err)
	}
	if len(kls) == 0 || kls[0] == nil {
		return 0, 0, 0, fmt.Errorf("%w: empty kline response", risk.ErrProviderUnavailable)
	}
	kl := kls[0]
	return parseFloat(kl.Close), parseFloat(kl.High), parseFloat(kl.Low), nil
}

// Candle is the OHLC view handed to the regime classifier.
type Candle struct {
	High, Low, Close float64
}

// FetchCandles returns up to limit closed candles for symbol.
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = s.cfg.KlineLimit
	}
	kls, err := s.client.NewKlinesService().
		Symbol(cleanSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: klines: %v", risk.ErrProviderUnavailable, err)
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			High:  parseFloat(kl.High),
			Low:   parseFloat(kl.Low),
			Close: parseFloat(kl.Close),
		})
	}
	return out, nil
}

// cleanSymbol strips separators: Binance wants ETHUSDT, not ETH/USDT.
func cleanSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", ":", "").Replace(strings.TrimSpace(symbol)))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
