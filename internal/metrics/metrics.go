// Package metrics exposes the service's process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/urlhealth/internal/limiter"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probeSlotsInFlight         prometheus.Gauge
	probeSlotWaitSeconds       prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	streamEventsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
			},
			[]string{"method", "route"},
		)

		probeSlotsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "urlhealth_probe_slots_in_flight",
				Help: "Number of probe slots currently held.",
			},
		)

		probeSlotWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "urlhealth_probe_slot_wait_seconds",
				Help:    "Time spent waiting for a probe slot.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urlhealth_rate_limit_delay_seconds",
				Help:    "Histogram of per-host pacing delays.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		streamEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urlhealth_stream_events_total",
				Help: "Progress events written to clients, labeled by stream format.",
			},
			[]string{"format"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveStreamEvent counts one event written in the given format.
func ObserveStreamEvent(format string) {
	streamEventsTotal.WithLabelValues(format).Inc()
}

// LimiterHooks reports slot waits and occupancy for a probe limiter.
func LimiterHooks() limiter.Hooks {
	return limiter.Hooks{
		OnAcquire: func(wait time.Duration, inFlight int64) {
			probeSlotWaitSeconds.Observe(wait.Seconds())
			probeSlotsInFlight.Set(float64(inFlight))
		},
		OnRelease: func(inFlight int64) {
			probeSlotsInFlight.Set(float64(inFlight))
		},
	}
}
