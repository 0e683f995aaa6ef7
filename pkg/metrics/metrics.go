package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// B-tree engine metrics
	BtreeInsertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipfscached_btree_inserts_total",
			Help: "Total number of keys applied to the B-tree via Insert",
		},
	)

	BtreeStoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipfscached_btree_store_duration_seconds",
			Help:    "Time taken for one Store pass (structural insert + serialize + add/pin/unpin)",
			Buckets: prometheus.DefBuckets,
		},
	)

	BtreeStoresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipfscached_btree_stores_total",
			Help: "Total number of completed Store passes",
		},
	)

	BtreeNodeCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipfscached_btree_node_count",
			Help: "Number of currently materialized nodes (LocalNodeCount)",
		},
	)

	// Republisher metrics
	RepublishTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipfscached_republish_total",
			Help: "Total number of completed publish() calls to the object store",
		},
	)

	RepublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipfscached_republish_duration_seconds",
			Help:    "Time taken for a single publish() round trip",
			Buckets: prometheus.DefBuckets,
		},
	)

	RepublishInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipfscached_republish_in_flight",
			Help: "Whether a publish() call is currently in flight (1) or not (0)",
		},
	)

	// InjectorDb metrics
	InjectorRootHashUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipfscached_injector_root_hash_updates_total",
			Help: "Total number of times the persisted root hash file was rewritten",
		},
	)

	InjectorUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipfscached_injector_updates_total",
			Help: "Total number of InjectorDb.Update calls by result",
		},
		[]string{"result"},
	)

	// ClientDb metrics
	ClientRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipfscached_client_refresh_total",
			Help: "Total number of ClientDb refresh cycles by result",
		},
		[]string{"result"},
	)

	ClientRootHashChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipfscached_client_root_hash_changes_total",
			Help: "Total number of refresh cycles that observed a new root hash",
		},
	)

	ClientGetContentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipfscached_client_get_content_duration_seconds",
			Help:    "Time taken by GetContent (tree lookup plus cat)",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(BtreeInsertsTotal)
	prometheus.MustRegister(BtreeStoreDuration)
	prometheus.MustRegister(BtreeStoresTotal)
	prometheus.MustRegister(BtreeNodeCount)
	prometheus.MustRegister(RepublishTotal)
	prometheus.MustRegister(RepublishDuration)
	prometheus.MustRegister(RepublishInFlight)
	prometheus.MustRegister(InjectorRootHashUpdatesTotal)
	prometheus.MustRegister(InjectorUpdatesTotal)
	prometheus.MustRegister(ClientRefreshTotal)
	prometheus.MustRegister(ClientRootHashChangesTotal)
	prometheus.MustRegister(ClientGetContentDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
