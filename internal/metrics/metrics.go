// Package metrics exposes Prometheus collectors for the download service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	imagesTotal                *prometheus.CounterVec
	imageBytesTotal            *prometheus.CounterVec
	chaptersTotal              *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	deliveryRetriesTotal       *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_images_total",
				Help: "Image fetch outcomes, labeled by host and result.",
			},
			[]string{"host", "result"},
		)

		imageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_image_bytes_total",
				Help: "Bytes of image data downloaded, labeled by host.",
			},
			[]string{"host"},
		)

		chaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_chapters_total",
				Help: "Chapters processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_deliveries_total",
				Help: "Archive handoffs, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		deliveryRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_delivery_retries_total",
				Help: "Delivery retries, labeled by sink and reason.",
			},
			[]string{"sink", "reason"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterbox_jobs_total",
				Help: "Jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterbox_queue_depth",
				Help: "Jobs waiting for a free worker.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterbox_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapterbox_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveImage records one image fetch outcome.
func ObserveImage(rawURL, result string, bytesFetched int) {
	Init()
	host := SanitizeHost(rawURL)
	imagesTotal.WithLabelValues(host, result).Inc()
	if bytesFetched > 0 {
		imageBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveChapter records how a chapter ended.
func ObserveChapter(source, outcome string) {
	Init()
	chaptersTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDelivery records the terminal outcome of one handoff.
func ObserveDelivery(sink, outcome string) {
	Init()
	deliveriesTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveDeliveryRetry counts a retried send.
func ObserveDeliveryRetry(sink, reason string) {
	Init()
	deliveryRetriesTotal.WithLabelValues(sink, reason).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the number of waiting jobs.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
