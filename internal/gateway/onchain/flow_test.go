package onchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskgate/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowService(t *testing.T, body string) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(Config{
		Endpoint:     srv.URL + "?symbol=%s",
		ExchangePath: "exchange",
		WhalePath:    "whale",
		StablePath:   "stable",
		BullishAbove: 0.3,
		BearishBelow: -0.3,
	})
}

func TestFlowSignalMajorityVote(t *testing.T) {
	cases := []struct {
		body string
		want risk.Flow
	}{
		{`{"exchange":0.5,"whale":0.4,"stable":-0.6}`, risk.FlowBullish},
		{`{"exchange":-0.5,"whale":-0.4,"stable":0.6}`, risk.FlowBearish},
		{`{"exchange":0.5,"whale":-0.5,"stable":0.0}`, risk.FlowNeutral},
		{`{"exchange":0.1,"whale":0.2,"stable":-0.1}`, risk.FlowNeutral},
	}
	for _, tc := range cases {
		s := flowService(t, tc.body)
		got, err := s.FlowSignal(context.Background(), "btcusdt")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "body %s", tc.body)
	}
}

func TestFlowSignalNoUsableSubSignals(t *testing.T) {
	s := flowService(t, `{"unrelated":1}`)
	_, err := s.FlowSignal(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, risk.ErrProviderUnavailable)
}

func TestFlowSignalUnconfiguredIsNeutral(t *testing.T) {
	s := New(Config{})
	got, err := s.FlowSignal(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, risk.FlowNeutral, got)
}
