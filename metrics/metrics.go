// Package metrics holds the process-wide Prometheus metric vars this
// service's HTTP/WS endpoints and background workers update, in the
// teacher's style: package-level promauto vars, no registry plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var RequestsByEndpoint = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "requests_by_endpoint",
		Help: "Requests by endpoint",
	},
	[]string{"endpoint"},
)

var LanesAvailable = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lane_available",
		Help: "Lanes currently served, 1 if available",
	},
	[]string{"lane"},
)

var StatusCode = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "status_code",
		Help: "HTTP status code",
	},
	[]string{"code"},
)

var EndpointToCode = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "endpoint_to_code",
		Help: "Endpoint to status code",
	},
	[]string{"endpoint", "code"},
)

var EndpointToSuccessOrFailure = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "endpoint_to_success_or_failure",
		Help: "Endpoint to success or failure",
	},
	[]string{"endpoint", "status"},
)

// Version reports build information of this binary, one gauge set to 1
// per running process.
var Version = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "version",
		Help: "Version information of this binary",
	},
	[]string{"started_at", "tag", "commit", "compiler", "goarch", "goos", "goamd64", "vcs", "vcs_revision", "vcs_time", "vcs_modified"},
)

var QueryLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "query_latency_histogram",
		Help:    "PIR query evaluation latency (C6 XOR sweep)",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
	[]string{"lane", "is_cold"},
)

var QueryFanoutHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "query_fanout_histogram",
		Help:    "Number of indices swept per query",
		Buckets: prometheus.ExponentialBuckets(1, 4, 12),
	},
	[]string{"lane"},
)

var HintCoverageBuildHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hint_coverage_build_latency_histogram",
		Help:    "Hint table build + coverage verification latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 10, 8),
	},
	[]string{"lane"},
)

var HintResampleCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hint_resample_count",
		Help: "Number of times hint table construction resampled its seed for coverage",
	},
	[]string{"lane"},
)

var DeltaApplyLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "delta_apply_latency_histogram",
		Help:    "Delta frame apply-to-hint-table latency",
		Buckets: prometheus.ExponentialBuckets(0.00001, 10, 9),
	},
	[]string{"lane"},
)

var DeltaEntriesAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delta_entries_applied_total",
		Help: "Total delta entries applied to a lane's hint table",
	},
	[]string{"lane"},
)

var LaneEntryCount = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lane_entry_count",
		Help: "Number of records in a lane's database (N)",
	},
	[]string{"lane"},
)

var LaneBlockNumber = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "lane_block_number",
		Help: "Most recent block number a lane's snapshot (or applied deltas) reflects",
	},
	[]string{"lane"},
)

var WebsocketConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Open delta-stream websocket connections",
	},
	[]string{"lane"},
)
