// Package critic asks a configured LLM endpoint for a trade-critique
// verdict on an asset and maps it to the consensus signal. Responses are
// schema-validated before anything trusts them.
package critic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"riskgate/internal/risk"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const verdictSchema = `{
	"type": "object",
	"required": ["action", "score", "confidence"],
	"properties": {
		"action": {"type": "string", "enum": ["buy", "sell", "hold"]},
		"score": {"type": "number", "minimum": -1, "maximum": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

// Service implements provider.ConsensusProvider.
type Service struct {
	cfg    Config
	client *http.Client
	schema *jsonschema.Schema
}

func New(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("critic endpoint cannot be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	schema, err := jsonschema.CompileString("verdict.json", verdictSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling verdict schema: %w", err)
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		schema: schema,
	}, nil
}

type verdictRequest struct {
	Model  string `json:"model,omitempty"`
	Symbol string `json:"symbol"`
	Prompt string `json:"prompt"`
}

// Consensus requests a verdict for the symbol. Any transport, parse, or
// schema failure degrades to ErrProviderUnavailable; the verdict itself is
// returned untouched so the gate applies its own confidence threshold.
func (s *Service) Consensus(ctx context.Context, symbol string) (risk.Consensus, error) {
	payload, err := json.Marshal(verdictRequest{
		Model:  s.cfg.Model,
		Symbol: strings.ToUpper(symbol),
		Prompt: fmt.Sprintf("Assess a new %s position right now. Respond with JSON {action, score, confidence}.", symbol),
	})
	if err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return risk.Consensus{}, fmt.Errorf("%w: critic returned %s", risk.ErrProviderUnavailable, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: %v", risk.ErrProviderUnavailable, err)
	}
	return s.parseVerdict(body)
}

func (s *Service) parseVerdict(body []byte) (risk.Consensus, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: critic response is not json: %v", risk.ErrProviderUnavailable, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return risk.Consensus{}, fmt.Errorf("%w: critic response failed schema: %v", risk.ErrProviderUnavailable, err)
	}
	parsed := gjson.ParseBytes(body)
	return risk.Consensus{
		Action:     parsed.Get("action").String(),
		Score:      parsed.Get("score").Float(),
		Confidence: parsed.Get("confidence").Float(),
	}, nil
}
