// Package telemetry centralises the control plane's Prometheus metric
// families, one per component per the teacher's observability/metrics.go
// convention: every gauge/counter/histogram is registered once at package
// init via promauto and exported as a package-level var the owning
// component updates directly, rather than threading a metrics interface
// through every constructor.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks pending work orders per queue system (legacy/new).
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controlplane_queue_depth",
		Help: "Current number of queued work orders",
	}, []string{"system"})

	// SchedulerDispatches counts dispatch attempts by outcome.
	SchedulerDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_scheduler_dispatches_total",
		Help: "Total scheduler dispatch attempts by outcome",
	}, []string{"outcome"}) // dispatched, backpressure

	// SlotsInUse tracks active concurrency slots out of the configured max.
	SlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_slots_in_use",
		Help: "Current number of acquired execution slots",
	})

	// MemoryPressureEvents counts memory warning/critical transitions.
	MemoryPressureEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_memory_pressure_events_total",
		Help: "Total memory-pressure events by severity",
	}, []string{"severity"}) // warning, critical

	// RetryAttempts counts scheduled retry attempts by work order.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_retry_attempts_total",
		Help: "Total retry attempts scheduled",
	}, []string{"attempt"})

	// RetryDelaySeconds observes the computed backoff delay per attempt.
	RetryDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "controlplane_retry_delay_seconds",
		Help:    "Computed exponential-backoff delay before a retry fires",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// RolloutRouted counts queue-facade routing decisions.
	RolloutRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_rollout_routed_total",
		Help: "Total work orders routed by the queue facade, by destination",
	}, []string{"destination"}) // legacy, new

	// RolloutShadowMismatches counts shadow-mode primary/shadow disagreements.
	RolloutShadowMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "controlplane_rollout_shadow_mismatches_total",
		Help: "Total shadow-mode comparisons where primary and shadow disagreed",
	})

	// BroadcasterDropped counts events evicted from a subscriber's bounded
	// buffer on overflow.
	BroadcasterDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "controlplane_broadcaster_dropped_total",
		Help: "Total events evicted from subscriber buffers on overflow",
	})

	// BroadcasterSubscribers tracks live subscriber count.
	BroadcasterSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_broadcaster_subscribers",
		Help: "Current number of active event subscribers",
	})

	// IterationsTotal counts completed iterations by terminal error type.
	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_iterations_total",
		Help: "Total iterations completed, labeled by error type (none on success)",
	}, []string{"error_type"})

	// IterationDurationSeconds observes per-iteration wall time.
	IterationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "controlplane_iteration_duration_seconds",
		Help:    "Duration of a single agent+verify iteration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// RunsTotal counts finished runs by terminal result.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_runs_total",
		Help: "Total runs finished, labeled by result",
	}, []string{"result"}) // passed, failed, cancelled, error

	// LoopDetections counts strategy-reported loop detections by strategy
	// mode and pattern type.
	LoopDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_loop_detections_total",
		Help: "Total loop detections raised by a loop strategy",
	}, []string{"mode", "pattern"})

	// PersistenceCorruptScan records the startup corruption scan result.
	PersistenceCorruptScan = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controlplane_persistence_corruption_scan",
		Help: "Result of the most recent startup persistence corruption scan",
	}, []string{"field"}) // total, valid, invalid

	// HTTPRequestDuration observes request latency per route/method/status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controlplane_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// WSConnections tracks live WebSocket subscription-gateway connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_ws_connections",
		Help: "Current number of WebSocket gateway connections",
	})
)
