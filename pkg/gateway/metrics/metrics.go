// Package metrics holds the bridge server's Prometheus collectors. All
// collectors live on a private registry served by Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatchedRoute = "unmatched"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitDenied  prometheus.Counter
	RateLimitBuckets prometheus.Gauge
	BridgeCallsTotal *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "friday"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests by route pattern and status.",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	rateLimitDenied := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by the token-bucket limiter.",
		},
	)

	rateLimitBuckets := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_buckets",
			Help:      "Live limiter buckets after the last cleanup sweep.",
		},
	)

	bridgeCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Outbound bridge calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		rateLimitDenied,
		rateLimitBuckets,
		bridgeCalls,
	)

	return &Metrics{
		registry:         registry,
		RequestsTotal:    requestsTotal,
		RequestDuration:  requestDuration,
		RateLimitDenied:  rateLimitDenied,
		RateLimitBuckets: rateLimitBuckets,
		BridgeCallsTotal: bridgeCalls,
	}
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.RateLimitDenied.Inc()
}

// RecordSweep matches ratelimit.Limiter.Run's onSweep callback.
func (m *Metrics) RecordSweep(removed, remaining int) {
	if m == nil {
		return
	}
	m.RateLimitBuckets.Set(float64(remaining))
}

// RecordBridgeCall matches bridge.Options.OnResult.
func (m *Metrics) RecordBridgeCall(op, outcome string) {
	if m == nil {
		return
	}
	m.BridgeCallsTotal.WithLabelValues(op, outcome).Inc()
}

// Middleware records one sample per request, labelled with the ServeMux
// pattern that matched. When routes is set the pattern is resolved up front
// so requests rejected by outer middleware still get their route label.
// Requests no pattern matched share one label so arbitrary paths cannot
// grow the series count.
func (m *Metrics) Middleware(routes *http.ServeMux, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := ""
		if routes != nil {
			_, route = routes.Handler(r)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if route == "" {
			route = r.Pattern
		}
		if route == "" {
			route = unmatchedRoute
		}
		m.RecordRequest(route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
