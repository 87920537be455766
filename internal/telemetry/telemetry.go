// Package telemetry holds the process-wide Prometheus collectors:
// package-level collectors registered once, incremented from call sites
// with no threading of a *metrics.Registry through every signature.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	SubscriberOverflowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Subsystem: "pubsub",
		Name:      "subscriber_overflow_total",
		Help:      "Messages dropped because a subscriber's queue was full.",
	}, []string{"topic"})

	NoveltyEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Subsystem: "bio",
		Name:      "novelty_events_total",
		Help:      "Novelty events fired by the Welford detector.",
	}, []string{"sensor_id", "attribute_id"})

	InvalidPayloadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Subsystem: "sensor",
		Name:      "invalid_payload_total",
		Help:      "Measurements rejected by payload validation.",
	}, []string{"sensor_id", "attribute_id", "reason"})

	LoadPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensocto",
		Subsystem: "load",
		Name:      "pressure",
		Help:      "Current system load pressure in [0,1].",
	})

	LoadMultiplier = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensocto",
		Subsystem: "load",
		Name:      "multiplier",
		Help:      "Current global throttling multiplier.",
	})

	ActiveSensors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensocto",
		Subsystem: "actor",
		Name:      "active_sensors",
		Help:      "Number of live sensor workers on this node.",
	})

	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensocto",
		Subsystem: "actor",
		Name:      "active_rooms",
		Help:      "Number of live room workers on this node.",
	})

	WorkerRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Subsystem: "actor",
		Name:      "worker_restarts_total",
		Help:      "Supervisor-driven worker restarts.",
	}, []string{"domain"})
)

func init() {
	prometheus.MustRegister(
		SubscriberOverflowTotal,
		NoveltyEventsTotal,
		InvalidPayloadTotal,
		LoadPressure,
		LoadMultiplier,
		ActiveSensors,
		ActiveRooms,
		WorkerRestartsTotal,
	)
}
