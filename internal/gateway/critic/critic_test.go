package critic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskgate/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func criticServer(t *testing.T, body string, gotAuth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}
		var req verdictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Symbol)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsensusParsesValidVerdict(t *testing.T) {
	var auth string
	srv := criticServer(t, `{"action":"buy","score":0.62,"confidence":0.85}`, &auth)
	s, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Model: "test"})
	require.NoError(t, err)

	c, err := s.Consensus(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "buy", c.Action)
	assert.InDelta(t, 0.62, c.Score, 1e-9)
	assert.InDelta(t, 0.85, c.Confidence, 1e-9)
	assert.Equal(t, "Bearer secret", auth)
}

func TestConsensusRejectsSchemaViolations(t *testing.T) {
	cases := []string{
		`{"action":"yolo","score":0.5,"confidence":0.9}`, // bad enum
		`{"action":"buy","score":0.5}`,                   // missing confidence
		`{"action":"buy","score":0.5,"confidence":1.7}`,  // out of range
		`{"action":"buy","score":"high","confidence":1}`, // wrong type
		`not json at all`,
	}
	for _, body := range cases {
		srv := criticServer(t, body, nil)
		s, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		_, err = s.Consensus(context.Background(), "BTCUSDT")
		assert.ErrorIs(t, err, risk.ErrProviderUnavailable, "body %s", body)
	}
}

func TestConsensusUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	s, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = s.Consensus(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, risk.ErrProviderUnavailable)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
