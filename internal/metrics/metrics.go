package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: chat calls by provider and outcome (ok, error, rate_limited).
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aibridge_chat_requests_total",
			Help: "Total chat calls dispatched through the router.",
		},
		[]string{"provider", "outcome"},
	)

	// Counter: stream chunks delivered to callers.
	StreamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aibridge_stream_chunks_total",
			Help: "Total stream chunks delivered to callers.",
		},
	)

	// Counter: tokens recorded against user quotas.
	TokensRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aibridge_tokens_recorded_total",
			Help: "Total tokens recorded by the rate limiter.",
		},
	)

	// Gauge: users with tracked rate-limit state.
	TrackedUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aibridge_rate_limit_tracked_users",
			Help: "Users currently holding rate-limit counters.",
		},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aibridge_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		ChatRequestsTotal,
		StreamChunksTotal,
		TokensRecordedTotal,
		TrackedUsers,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		HTTPLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap allows http.ResponseController to reach the underlying
// ResponseWriter for flushing streamed responses.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
