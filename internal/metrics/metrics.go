// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector defined here. It is kept apart from the
// default registry so a textfile export only carries crawler series.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	postsFetchedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "booru_posts_fetched_total",
			Help: "Total number of posts returned by the catalog.",
		},
	)

	pagesFetchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booru_pages_fetched_total",
			Help: "Total number of catalog pages fetched, labeled by whether the page was empty.",
		},
		[]string{"empty"},
	)

	tagResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booru_tag_resolutions_total",
			Help: "Total number of tag resolutions, labeled by where the answer came from.",
		},
		[]string{"source"},
	)

	remoteRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booru_remote_requests_total",
			Help: "Total number of remote API requests, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booru_retries_total",
			Help: "Total number of retries after a transient failure, labeled by operation.",
		},
		[]string{"op"},
	)

	batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booru_batches_total",
			Help: "Total number of archive batches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booru_batch_duration_seconds",
			Help:    "Histogram of archive batch write durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	tagResolutionsInflight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "booru_tag_resolutions_inflight",
			Help: "Number of tag resolutions currently holding a limiter slot.",
		},
	)
)

// Tag resolution sources.
const (
	SourceCache    = "cache"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceError    = "error"
)

// Batch outcomes.
const (
	BatchCommitted = "committed"
	BatchAbandoned = "abandoned"
)

// ObservePage records one fetched catalog page and its post count.
func ObservePage(posts int) {
	empty := "false"
	if posts == 0 {
		empty = "true"
	}
	pagesFetchedTotal.WithLabelValues(empty).Inc()
	postsFetchedTotal.Add(float64(posts))
}

// ObserveTagResolution records where a tag classification came from.
func ObserveTagResolution(source string) {
	tagResolutionsTotal.WithLabelValues(source).Inc()
}

// ObserveRemoteRequest records a remote call outcome ("ok", "status", "transport", "decode").
func ObserveRemoteRequest(endpoint, outcome string) {
	remoteRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveRetry records a retry for the named operation.
func ObserveRetry(op string) {
	retriesTotal.WithLabelValues(op).Inc()
}

// ObserveBatch records a batch outcome and how long it took.
func ObserveBatch(outcome string, duration time.Duration) {
	batchesTotal.WithLabelValues(outcome).Inc()
	batchDurationSeconds.Observe(duration.Seconds())
}

// IncInflightResolutions increments the in-flight resolution gauge.
func IncInflightResolutions() {
	tagResolutionsInflight.Inc()
}

// DecInflightResolutions decrements the in-flight resolution gauge.
func DecInflightResolutions() {
	tagResolutionsInflight.Dec()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
