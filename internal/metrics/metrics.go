// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestRecordsTotal         *prometheus.CounterVec
	harvestRunsTotal            *prometheus.CounterVec
	fetchDurationSeconds        *prometheus.HistogramVec
	fetchFailuresTotal          *prometheus.CounterVec
	breakerState                *prometheus.GaugeVec
	breakerFastFailsTotal       *prometheus.CounterVec
	adaptiveDelaySeconds        *prometheus.HistogramVec
	activeWorkers               prometheus.Gauge
	invalidationsPublishedTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Total records processed, labeled by entity kind and upsert outcome.",
			},
			[]string{"kind", "outcome"},
		)

		harvestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_runs_total",
				Help: "Total harvest runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of registry fetch latencies, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_failures_total",
				Help: "Total upstream fetch failures, labeled by host.",
			},
			[]string{"host"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvest_breaker_state",
				Help: "Circuit breaker state per host (0 closed, 1 half-open, 2 open).",
			},
			[]string{"host"},
		)

		breakerFastFailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_breaker_fast_fails_total",
				Help: "Requests denied locally by an open breaker, labeled by host.",
			},
			[]string{"host"},
		)

		adaptiveDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_adaptive_delay_seconds",
				Help:    "Histogram of governor-imposed inter-request delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of workers currently processing a record.",
			},
		)

		invalidationsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_invalidations_published_total",
				Help: "Cache invalidation events published, labeled by entity kind.",
			},
			[]string{"kind"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRecord increments the record counter for one upsert outcome.
func ObserveRecord(kind, outcome string) {
	Init()
	harvestRecordsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRun increments the run counter for the given terminal status.
func ObserveRun(status string) {
	Init()
	harvestRunsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records a fetch latency sample.
func ObserveFetch(host string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveFetchFailure increments the upstream failure counter.
func ObserveFetchFailure(host string) {
	Init()
	fetchFailuresTotal.WithLabelValues(host).Inc()
}

// SetBreakerState publishes the breaker state for a host.
func SetBreakerState(host string, state int) {
	Init()
	breakerState.WithLabelValues(host).Set(float64(state))
}

// ObserveBreakerFastFail counts a request denied by an open breaker.
func ObserveBreakerFastFail(host string) {
	Init()
	breakerFastFailsTotal.WithLabelValues(host).Inc()
}

// ObserveDelay records how long the governor held a request.
func ObserveDelay(host string, duration time.Duration) {
	Init()
	adaptiveDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveInvalidation counts a published cache invalidation event.
func ObserveInvalidation(kind string) {
	Init()
	invalidationsPublishedTotal.WithLabelValues(kind).Inc()
}
