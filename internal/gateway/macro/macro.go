// Package macro fetches the broad market-condition signals: the fear/greed
// index and a dollar-strength proxy classified into risk-on/off.
package macro

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"riskgate/internal/risk"

	"github.com/tidwall/gjson"
)

type Config struct {
	FearGreedURL string
	CurrencyURL  string
	CurrencyPath string // gjson path to the strength scalar
	RiskOffAbove float64
	RiskOnBelow  float64
	HTTPTimeout  time.Duration
}

// Service implements provider.SentimentProvider.
type Service struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Service {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// SentimentSignal fetches and classifies the latest fear/greed reading.
func (s *Service) SentimentSignal(ctx context.Context) (risk.Sentiment, error) {
	body, err := s.fetch(ctx, s.cfg.FearGreedURL)
	if err != nil {
		return risk.SentimentUnknown, err
	}
	cls := gjson.GetBytes(body, "data.0.value_classification").String()
	if cls == "" {
		return risk.SentimentUnknown, fmt.Errorf("%w: fear/greed payload missing classification", risk.ErrProviderUnavailable)
	}
	sentiment := risk.ParseSentiment(cls)
	if sentiment == risk.SentimentUnknown {
		return risk.SentimentUnknown, fmt.Errorf("%w: unrecognized fear/greed classification %q", risk.ErrProviderUnavailable, cls)
	}
	return sentiment, nil
}

// CurrencyStrengthSignal classifies the configured dollar-strength scalar.
// Higher readings mean a stronger dollar, which is risk-off for crypto.
func (s *Service) CurrencyStrengthSignal(ctx context.Context) (risk.CurrencyStrength, error) {
	if s.cfg.CurrencyURL == "" {
		return risk.CurrencyNeutral, nil
	}
	body, err := s.fetch(ctx, s.cfg.CurrencyURL)
	if err != nil {
		return risk.CurrencyUnknown, err
	}
	val := gjson.GetBytes(body, s.cfg.CurrencyPath)
	if !val.Exists() {
		return risk.CurrencyUnknown, fmt.Errorf("%w: currency payload missing %q", risk.ErrProviderUnavailable, s.cfg.CurrencyPath)
	}
	strength := val.Float()
	switch {
	case s.cfg.RiskOffAbove > 0 && strength >= s.cfg.RiskOffAbove:
		return risk.CurrencyRiskOff, nil
	case s.cfg.RiskOnBelow > 0 && strength <= s.cfg.RiskOnBelow:
		return risk.CurrencyRiskOn, nil
	default:
		return risk.CurrencyNeutral, nil
	}
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %s from %s", risk.ErrProviderUnavailable, resp.Status, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed json from %s", risk.ErrProviderUnavailable, url)
	}
	return body, nil
}
