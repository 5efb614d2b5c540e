package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for StreamDrops
const (
	DropFetchError   = "fetch_error"
	DropNotFound     = "not_found"
	DropMarshalError = "marshal_error"
	DropUnknown      = "unknown_channel"
)

var (
	StreamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atc_online_streams_active",
			Help: "Number of open client streams.",
		},
		[]string{"feed"},
	)

	StreamsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_streams_opened_total",
			Help: "Total number of client streams opened.",
		},
		[]string{"feed", "transport"},
	)

	StreamsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_streams_rejected_total",
			Help: "Total number of client streams refused before subscribing.",
		},
		[]string{"reason"},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_stream_messages_total",
			Help: "Total number of messages pushed to clients.",
		},
		[]string{"feed", "type"},
	)

	StreamDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_stream_drops_total",
			Help: "Total number of notifications dropped for a single client.",
		},
		[]string{"feed", "reason"},
	)

	StreamWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_stream_write_failures_total",
			Help: "Total number of streams torn down after a transport write failure.",
		},
		[]string{"feed"},
	)

	VatisUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_vatis_updates_total",
			Help: "vATIS webhook requests by outcome.",
		},
		[]string{"outcome"},
	)

	VatisTokensSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atc_online_vatis_tokens_skipped_total",
			Help: "Runway configuration tokens that did not match the expected pattern.",
		},
	)

	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_feed_fetches_total",
			Help: "Upstream feed fetches by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atc_online_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atc_online_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"route", "method", "code"},
	)

	httpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atc_online_http_duration_seconds",
			Help:    "HTTP request duration in seconds. Streaming routes report their full lifetime.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and duration labelled by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// WrapResponseWriter keeps Flusher and Hijacker available to the
		// SSE and WebSocket transports.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
