package macro

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskgate/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSentimentSignalClassifies(t *testing.T) {
	cases := []struct {
		payload string
		want    risk.Sentiment
	}{
		{`{"data":[{"value":"78","value_classification":"Extreme Greed"}]}`, risk.SentimentExtremeGreed},
		{`{"data":[{"value":"60","value_classification":"Greed"}]}`, risk.SentimentGreed},
		{`{"data":[{"value":"22","value_classification":"Fear"}]}`, risk.SentimentFear},
	}
	for _, tc := range cases {
		srv := jsonServer(t, http.StatusOK, tc.payload)
		s := New(Config{FearGreedURL: srv.URL})

		got, err := s.SentimentSignal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestSentimentSignalMissingClassification(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"data":[{"value":"50"}]}`)
	s := New(Config{FearGreedURL: srv.URL})

	_, err := s.SentimentSignal(context.Background())
	assert.ErrorIs(t, err, risk.ErrProviderUnavailable)
}

func TestSentimentSignalUpstreamError(t *testing.T) {
	srv := jsonServer(t, http.StatusBadGateway, `oops`)
	s := New(Config{FearGreedURL: srv.URL})

	_, err := s.SentimentSignal(context.Background())
	assert.ErrorIs(t, err, risk.ErrProviderUnavailable)
}

func TestCurrencyStrengthThresholds(t *testing.T) {
	cases := []struct {
		value string
		want  risk.CurrencyStrength
	}{
		{"106.2", risk.CurrencyRiskOff},
		{"99.1", risk.CurrencyRiskOn},
		{"102.5", risk.CurrencyNeutral},
	}
	for _, tc := range cases {
		srv := jsonServer(t, http.StatusOK, `{"value":`+tc.value+`}`)
		s := New(Config{
			CurrencyURL:  srv.URL,
			CurrencyPath: "value",
			RiskOffAbove: 105,
			RiskOnBelow:  100,
		})

		got, err := s.CurrencyStrengthSignal(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "value %s", tc.value)
	}
}

func TestCurrencyStrengthUnconfiguredIsNeutral(t *testing.T) {
	s := New(Config{})
	got, err := s.CurrencyStrengthSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, risk.CurrencyNeutral, got)
}
