// Package onchain adapts a generic on-chain analytics endpoint into the
// flow signal. Three sub-signals (exchange netflow, whale movement,
// stablecoin flow) are fetched from one payload and majority-voted.
package onchain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"riskgate/internal/risk"

	"github.com/tidwall/gjson"
)

type Config struct {
	Endpoint     string // %s is replaced with the symbol
	ExchangePath string
	WhalePath    string
	StablePath   string
	BullishAbove float64
	BearishBelow float64
	HTTPTimeout  time.Duration
}

// Service implements provider.FlowProvider.
type Service struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Service {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 8 * time.Second
	}
	return &Service{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

// FlowSignal fetches the symbol's flow scalars and votes across them. With
// no endpoint configured the signal is neutral, never an error.
func (s *Service) FlowSignal(ctx context.Context, symbol string) (risk.Flow, error) {
	if s.cfg.Endpoint == "" {
		return risk.FlowNeutral, nil
	}
	url := strings.ReplaceAll(s.cfg.Endpoint, "%s", strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return risk.FlowUnknown, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return risk.FlowUnknown, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return risk.FlowUnknown, fmt.Errorf("%w: unexpected status %s", risk.ErrProviderUnavailable, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return risk.FlowUnknown, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	if !gjson.ValidBytes(body) {
		return risk.FlowUnknown, fmt.Errorf("%w: malformed flow payload", risk.ErrProviderUnavailable)
	}

	votes := 0
	counted := 0
	for _, path := range []string{s.cfg.ExchangePath, s.cfg.WhalePath, s.cfg.StablePath} {
		if path == "" {
			continue
		}
		val := gjson.GetBytes(body, path)
		if !val.Exists() {
			continue
		}
		counted++
		switch v := val.Float(); {
		case v >= s.cfg.BullishAbove:
			votes++
		case v <= s.cfg.BearishBelow:
			votes--
		}
	}
	if counted == 0 {
		return risk.FlowUnknown, fmt.Errorf("%w: flow payload had no usable sub-signals", risk.ErrProviderUnavailable)
	}
	switch {
	case votes > 0:
		return risk.FlowBullish, nil
	case votes < 0:
		return risk.FlowBearish, nil
	default:
		return risk.FlowNeutral, nil
	}
}
