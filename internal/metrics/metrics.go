// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub
var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridhub_request_duration_seconds",
			Help:    "Total time taken for inference requests in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 15, 20, 30, 40, 50, 75, 100, 150, 200, 350, 600},
		},
		[]string{"model", "stream"},
	)

	TimeToFirstChunk = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridhub_time_to_first_chunk_seconds",
			Help:    "Time from dispatch to first chunk relayed to the client",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		},
		[]string{"model"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridhub_request_count_total",
			Help: "Total number of inference requests processed",
		},
		[]string{"model", "stream", "status"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridhub_error_count",
			Help: "Error count",
		},
		[]string{"from"},
	)

	DroppedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridhub_dropped_chunks_total",
			Help: "Chunks received for unknown or already closed requests",
		},
	)

	ConnectedNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridhub_connected_nodes",
			Help: "Worker nodes currently connected",
		},
	)

	NodeLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridhub_node_load",
			Help: "In-flight requests per node",
		},
		[]string{"node"},
	)

	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridhub_inflight_requests",
			Help: "Current Inflight Requests",
		},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridhub_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)

// Worker
var (
	ForwardedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridworker_forwarded_requests_total",
			Help: "Requests forwarded to the local model server",
		},
		[]string{"status"},
	)

	DiscoveredModels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridworker_discovered_models",
			Help: "Models reported by the local model server on the last discovery",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridworker_reconnects_total",
			Help: "Connection attempts to the hub",
		},
	)
)

// Proxy
var (
	ConfigUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridproxy_config_updates_total",
			Help: "Proxy configuration poll cycles by outcome",
		},
		[]string{"result"},
	)

	HealthyHubs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridproxy_healthy_hubs",
			Help: "Hubs in the currently published routing table",
		},
	)
)
