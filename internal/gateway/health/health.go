// Package health polls the collateral health factor of the account's
// lending position. With no endpoint configured it serves a static value,
// which keeps the macro gate and kill switch exercised in paper setups.
package health

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
	Endpoint    string
	JSONPath    string
	StaticValue float64
	HTTPTimeout time.Duration
}

type Service struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Service {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.JSONPath == "" {
		cfg.JSONPath = "healthFactor"
	}
	return &Service{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

func (s *Service) HealthFactor(ctx context.Context) (float64, error) {
	if strings.TrimSpace(s.cfg.Endpoint) == "" {
		return s.cfg.StaticValue, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: health feed returned %s", risk.ErrProviderUnavailable, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: health feed returned invalid json", risk.ErrProviderUnavailable)
	}
	val := gjson.GetBytes(body, s.cfg.JSONPath)
	if !val.Exists() {
		return 0, fmt.Errorf("%w: health feed missing %q", risk.ErrProviderUnavailable, s.cfg.JSONPath)
	}
	hf := val.Float()
	if hf <= 0 {
		return 0, fmt.Errorf("%w: health feed returned non-positive factor %v", risk.ErrProviderUnavailable, hf)
	}
	return hf, nil
}
