// Package metrics exposes Prometheus collectors for the scraping and
// classification pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtaxon_scrapes_total",
			Help: "Total scrape outcomes, labeled by result kind.",
		},
		[]string{"outcome"},
	)

	scrapeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtaxon_scrape_duration_seconds",
			Help:    "Histogram of page navigation times for successful fetches.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtaxon_classifications_total",
			Help: "Total classification outcomes, labeled by source and category.",
		},
		[]string{"source", "category"},
	)

	backendRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webtaxon_backend_retries_total",
			Help: "Total retried classification backend calls.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtaxon_rate_limit_delay_seconds",
			Help:    "Histogram of per-domain pacing delays.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30},
		},
	)

	poolWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webtaxon_pool_wait_seconds",
			Help:    "Histogram of time spent waiting for a fetch session.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webtaxon_active_workers",
			Help: "Number of workers currently processing a domain.",
		},
	)
)

// Handler returns the HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records one terminal scrape outcome.
func ObserveScrape(outcome string, duration time.Duration) {
	scrapesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		scrapeDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveClassification records one classification outcome.
func ObserveClassification(source, category string) {
	classificationsTotal.WithLabelValues(source, category).Inc()
}

// ObserveBackendRetry counts a retried backend call.
func ObserveBackendRetry() {
	backendRetriesTotal.Inc()
}

// ObserveRateLimitDelay records a pacing delay.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObservePoolWait records how long a caller blocked on session checkout.
func ObservePoolWait(d time.Duration) {
	poolWaitSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() { activeWorkers.Inc() }

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() { activeWorkers.Dec() }
