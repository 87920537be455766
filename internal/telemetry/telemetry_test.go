package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGaugesAreUsable(t *testing.T) {
	SubscriberOverflowTotal.WithLabelValues("room.r1.crdt").Inc()
	NoveltyEventsTotal.WithLabelValues("s1", "hr").Inc()
	InvalidPayloadTotal.WithLabelValues("s1", "hr", "out_of_range").Inc()
	LoadPressure.Set(0.42)
	LoadMultiplier.Set(1.5)
	ActiveSensors.Set(3)
	ActiveRooms.Set(1)
	WorkerRestartsTotal.WithLabelValues("sensor").Inc()

	if got := testutil.ToFloat64(LoadPressure); got != 0.42 {
		t.Fatalf("want LoadPressure gauge value 0.42, got %v", got)
	}
}

func TestCounterVecAccumulatesPerLabel(t *testing.T) {
	NoveltyEventsTotal.Reset()
	NoveltyEventsTotal.WithLabelValues("s2", "temp").Inc()
	NoveltyEventsTotal.WithLabelValues("s2", "temp").Inc()
	NoveltyEventsTotal.WithLabelValues("s3", "temp").Inc()

	if got := testutil.ToFloat64(NoveltyEventsTotal.WithLabelValues("s2", "temp")); got != 2 {
		t.Fatalf("want 2 novelty events recorded for s2/temp, got %v", got)
	}
}
