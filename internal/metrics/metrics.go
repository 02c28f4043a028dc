// Package metrics provides Prometheus instrumentation for the economy engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency tracks end-to-end trade latency including retries.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "economy_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades refused for business reasons.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// LedgerOpsTotal counts reservation ledger operations by op and outcome.
	LedgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_ledger_ops_total",
		Help: "Ledger operations by operation and result",
	}, []string{"op", "result"})

	// RewardDrawsTotal counts reward draws by table and quality tier.
	RewardDrawsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_reward_draws_total",
		Help: "Reward draws by table and quality",
	}, []string{"table", "quality", "luck"})

	// PurchasesTotal counts shop purchases by item.
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_purchases_total",
		Help: "Shop purchases by item",
	}, []string{"item"})

	// VersionConflicts counts optimistic write conflicts that forced a reload.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_version_conflicts_total",
		Help: "Account writes rejected by the version check",
	})

	// InstrumentPrice tracks the last sampled price per ticker.
	InstrumentPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "economy_instrument_price",
		Help: "Last sampled instrument price",
	}, []string{"ticker"})

	// InstrumentVolume tracks units traded over the stats window per ticker.
	InstrumentVolume = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "economy_instrument_volume",
		Help: "Units traded over the statistics window",
	}, []string{"ticker", "side"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "economy_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps account and ticker IDs out of the labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
