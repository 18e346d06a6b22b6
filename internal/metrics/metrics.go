// Package metrics exposes gate and aggregator counters on the default
// prometheus registry. Serving them is opt-in; collectors are always live.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_validations_total",
		Help: "Trade validations by outcome and deciding layer.",
	}, []string{"outcome", "layer"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_provider_failures_total",
		Help: "Signal provider refresh failures.",
	}, []string{"provider"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_volatility_breaker_trips_total",
		Help: "Volatility circuit-breaker trips per symbol.",
	}, []string{"symbol"})

	KillSwitchTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskgate_killswitch_trips_total",
		Help: "Kill-switch transitions to triggered.",
	})

	SessionPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_session_pnl_usd",
		Help: "Realized session P&L in quote currency.",
	})

	OpenTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_open_trades",
		Help: "Currently open trades in the session ledger.",
	})

	ConsecutiveLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_consecutive_losses",
		Help: "Consecutive losing closes in the current run.",
	})

	HealthFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_health_factor",
		Help: "Latest collateral health factor reading.",
	})
)

// Serve blocks until ctx is done, exposing /metrics on addr.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
