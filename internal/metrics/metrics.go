package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "state_transitions_total",
			Help:      "Count of download state transitions applied by the scheduler.",
		},
		[]string{"state"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stashd",
			Name:      "active_downloads",
			Help:      "Number of downloads currently running.",
		},
	)

	DownloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes fetched from the sharehoster.",
		},
	)

	FetchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "fetch_retries_total",
			Help:      "Transient fetch failures that entered the retry policy.",
		},
	)

	ManifestErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "manifest_errors_total",
			Help:      "Cache manifest writes that failed during Create.",
		},
	)

	BroadcastDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stashd",
			Name:      "broadcast_drops_total",
			Help:      "Events dropped because a WebSocket client's buffer was full.",
		},
	)
)

// Register registers the stashd metrics into the default registry.
func Register() {
	prometheus.MustRegister(StateTransitions, ActiveDownloads, DownloadedBytes, FetchRetries, ManifestErrors, BroadcastDrops)
}
