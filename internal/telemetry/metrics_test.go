package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMetrics_Registered exercises every label-based metric once and checks
// the default registry can gather them without error, catching duplicate
// registration or malformed label sets at the package level.
func TestMetrics_Registered(t *testing.T) {
	QueueDepth.WithLabelValues("legacy").Set(3)
	SchedulerDispatches.WithLabelValues("dispatched").Inc()
	SlotsInUse.Set(2)
	MemoryPressureEvents.WithLabelValues("warning").Inc()
	RetryAttempts.WithLabelValues("1").Inc()
	RetryDelaySeconds.Observe(1.5)
	RolloutRouted.WithLabelValues("new").Inc()
	RolloutShadowMismatches.Inc()
	BroadcasterDropped.Inc()
	BroadcasterSubscribers.Set(1)
	IterationsTotal.WithLabelValues("none").Inc()
	IterationDurationSeconds.Observe(4.2)
	RunsTotal.WithLabelValues("passed").Inc()
	LoopDetections.WithLabelValues("ralph", "repeat").Inc()
	PersistenceCorruptScan.WithLabelValues("valid").Set(10)
	HTTPRequestDuration.WithLabelValues("/api/v1/work-orders", "POST", "200").Observe(0.05)
	WSConnections.Set(1)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"controlplane_queue_depth",
		"controlplane_scheduler_dispatches_total",
		"controlplane_slots_in_use",
		"controlplane_runs_total",
		"controlplane_ws_connections",
	} {
		if !names[want] {
			t.Fatalf("expected metric family %s to be registered", want)
		}
	}
}
