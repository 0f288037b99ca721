package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream metrics
	UpstreamAuths = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "upstream",
			Name:      "auths_total",
			Help:      "Total number of upstream authentications",
		},
	)

	UpstreamReadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "upstream",
			Name:      "read_errors_total",
			Help:      "Total number of failed upstream point reads",
		},
	)

	UpstreamWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "upstream",
			Name:      "write_errors_total",
			Help:      "Total number of failed upstream point writes",
		},
	)

	// Collector metrics
	SamplesCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "collector",
			Name:      "samples_total",
			Help:      "Total number of telemetry samples collected",
		},
	)

	DegradedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "collector",
			Name:      "degraded_ticks_total",
			Help:      "Collection ticks where every point read failed",
		},
	)

	MissingPointReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "collector",
			Name:      "missing_point_reads_total",
			Help:      "Individual point reads recorded as missing values",
		},
	)

	BufferSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scadabridge",
			Subsystem: "collector",
			Name:      "buffer_samples",
			Help:      "Samples currently retained in the telemetry buffer",
		},
	)

	// Hub metrics
	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scadabridge",
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently connected telemetry subscribers",
		},
	)

	DroppedSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "hub",
			Name:      "dropped_samples_total",
			Help:      "Samples dropped from slow subscriber queues",
		},
	)

	// Command gate metrics
	ActionsProposed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "gate",
			Name:      "proposals_total",
			Help:      "Action proposals by interlock outcome",
		},
		[]string{"outcome"},
	)

	ActionsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "gate",
			Name:      "resolutions_total",
			Help:      "Pending action resolutions by terminal state",
		},
		[]string{"state"},
	)

	// Proxy metrics
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scadabridge",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied HTTP requests by status class",
		},
		[]string{"status_class"},
	)

	ProxyRelayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scadabridge",
			Subsystem: "proxy",
			Name:      "relay_duration_seconds",
			Help:      "Duration of proxied HTTP exchanges",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
	)

	ProxyWebsocketRelays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scadabridge",
			Subsystem: "proxy",
			Name:      "websocket_relays",
			Help:      "Currently open proxied WebSocket relays",
		},
	)
)
