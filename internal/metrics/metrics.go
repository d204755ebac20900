// Package metrics exposes Prometheus collectors for the scraping pipeline.
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
	pagesFetchedTotal     *prometheus.CounterVec
	fetchRetriesTotal     *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	geocodeRequestsTotal  *prometheus.CounterVec
	imagesArchivedTotal   prometheus.Counter
	imageBytesTotal       prometheus.Counter
	rateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camino_pages_fetched_total",
				Help: "Total pages fetched, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camino_fetch_retries_total",
				Help: "Total fetch retries, labeled by host.",
			},
			[]string{"host"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camino_fetch_duration_seconds",
				Help:    "Fetch duration in seconds, labeled by host.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		)

		geocodeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camino_geocode_requests_total",
				Help: "Total geocoding lookups, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		imagesArchivedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "camino_images_archived_total",
				Help: "Total stamp images archived to disk.",
			},
		)

		imageBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "camino_image_bytes_total",
				Help: "Total bytes of stamp images written.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camino_rate_limit_delay_seconds",
				Help:    "Delay introduced by the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
		)
	})
}

// ObservePageFetched records one completed fetch attempt chain.
func ObservePageFetched(host, outcome string, duration time.Duration) {
	if pagesFetchedTotal == nil {
		return
	}
	pagesFetchedTotal.WithLabelValues(host, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveFetchRetry records one retried attempt against a host.
func ObserveFetchRetry(host string) {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.WithLabelValues(host).Inc()
}

// ObserveGeocode records one provider lookup outcome.
func ObserveGeocode(provider, outcome string) {
	if geocodeRequestsTotal == nil {
		return
	}
	geocodeRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveImageArchived records one stored image and its size.
func ObserveImageArchived(bytes int64) {
	if imagesArchivedTotal == nil {
		return
	}
	imagesArchivedTotal.Inc()
	imageBytesTotal.Add(float64(bytes))
}

// ObserveRateLimitDelay records time spent waiting on the limiter.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
