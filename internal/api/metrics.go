package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the API and the
// backtest pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	backtestsTotal  *prometheus.CounterVec
	backtestRunning prometheus.Gauge
	backtestBars    prometheus.Counter
	backtestSeconds prometheus.Histogram
	wsClients       prometheus.Gauge
}

// NewMetrics creates the instrument set on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strategy_engine",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "strategy_engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		backtestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strategy_engine",
			Name:      "backtests_total",
			Help:      "Backtests by terminal status.",
		}, []string{"status"}),
		backtestRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "strategy_engine",
			Name:      "backtests_running",
			Help:      "Backtests currently executing.",
		}),
		backtestBars: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_engine",
			Name:      "backtest_bars_processed_total",
			Help:      "Bars processed across all backtests.",
		}),
		backtestSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strategy_engine",
			Name:      "backtest_duration_seconds",
			Help:      "Wall-clock duration of completed backtests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "strategy_engine",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}

// Handler returns the /metrics scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request counting and latency.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
