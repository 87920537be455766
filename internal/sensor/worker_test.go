package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/adiibanez/sensocto/internal/pubsub"
)

type fakeCalc struct {
	windowMS int
	level    string
}

func (f *fakeCalc) CalculateBatchWindow(baseMS int, sensorID, attrID string) int {
	if f.windowMS != 0 {
		return f.windowMS
	}
	return baseMS
}
func (f *fakeCalc) GetAttentionLevel(sensorID, attrID string) string { return f.level }

type fakeNovelty struct {
	boosted  bool
	reported []float64
}

func (f *fakeNovelty) Report(sensorID, attrID string, value float64, at time.Time) {
	f.reported = append(f.reported, value)
}
func (f *fakeNovelty) Boosted(sensorID, attrID string) bool { return f.boosted }

type fakeConnector struct {
	pushed []BackpressureConfig
}

func (f *fakeConnector) SendBackpressureConfig(sensorID string, cfg BackpressureConfig) error {
	f.pushed = append(f.pushed, cfg)
	return nil
}

func newTestWorker(calc BatchWindowCalculator, novel NoveltyReporter, conn Connector) *Worker {
	bus := pubsub.New(8)
	cfg := Config{
		SensorID:      "s1",
		Attributes:    []Attribute{{ID: "hr", Type: "heartrate"}},
		DefaultWindow: 100,
		LateTolerance: 10 * time.Second,
		OfflineGrace:  time.Minute,
		BaseBatchMS:   1000,
	}
	return NewWorker(cfg, bus, calc, novel, conn)
}

func heartbeatMeasurement(bpm int, ts time.Time) Measurement {
	return Measurement{
		TimestampMS: uint64(ts.UnixMilli()),
		AttributeID: "hr",
		Payload:     HeartRate{BPM: bpm},
	}
}

func TestIngestAcceptsValidMeasurement(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	if err := w.Ingest(heartbeatMeasurement(72, time.Now())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	latest, ok := w.GetLatest("hr")
	if !ok {
		t.Fatal("want a latest measurement after ingest")
	}
	if latest.Payload.(HeartRate).BPM != 72 {
		t.Fatalf("unexpected latest payload: %+v", latest.Payload)
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	err := w.Ingest(heartbeatMeasurement(0, time.Now()))
	if err == nil {
		t.Fatal("want an error for an out-of-range heartrate payload")
	}
}

func TestIngestRejectsTimestampTooFarInTheFuture(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	err := w.Ingest(heartbeatMeasurement(72, time.Now().Add(time.Hour)))
	if err == nil {
		t.Fatal("want an error for a measurement stamped far in the future")
	}
}

func TestIngestRejectsTimestampTooFarInThePast(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	err := w.Ingest(heartbeatMeasurement(72, time.Now().Add(-time.Hour)))
	if err == nil {
		t.Fatal("want an error for a measurement stamped far in the past")
	}
}

func TestIngestDeduplicatesReplayedMeasurement(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	m := heartbeatMeasurement(72, time.Now())
	if err := w.Ingest(m); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	// a second ingest with a different value but the identical
	// attribute+timestamp key must be silently absorbed, not applied.
	replay := m
	replay.Payload = HeartRate{BPM: 99}
	if err := w.Ingest(replay); err != nil {
		t.Fatalf("replay ingest should not error: %v", err)
	}
	latest, _ := w.GetLatest("hr")
	if latest.Payload.(HeartRate).BPM != 72 {
		t.Fatalf("want the replay to be absorbed, keeping the original value, got %+v", latest.Payload)
	}
}

func TestIngestBatchReportsPerElementErrors(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	now := time.Now()
	errs := w.IngestBatch([]Measurement{
		heartbeatMeasurement(72, now),
		heartbeatMeasurement(0, now.Add(time.Millisecond)),
	})
	if len(errs) != 2 {
		t.Fatalf("want 2 results, got %d", len(errs))
	}
	if errs[0] != nil {
		t.Fatalf("want the first, valid measurement to succeed: %v", errs[0])
	}
	if errs[1] == nil {
		t.Fatal("want the second, invalid measurement to fail independently")
	}
}

func TestIngestPublishesToSensorDataTopic(t *testing.T) {
	bus := pubsub.New(8)
	cfg := Config{
		SensorID:      "s1",
		Attributes:    []Attribute{{ID: "hr", Type: "heartrate"}},
		DefaultWindow: 100,
		LateTolerance: 10 * time.Second,
		OfflineGrace:  time.Minute,
		BaseBatchMS:   1000,
	}
	w := NewWorker(cfg, bus, nil, nil, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe(ctx, pubsub.SensorData("s1"))
	defer sub.Unsubscribe()

	if err := w.Ingest(heartbeatMeasurement(72, time.Now())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	select {
	case msg := <-sub.Messages():
		m, ok := msg.Payload.(Measurement)
		if !ok || m.AttributeID != "hr" {
			t.Fatalf("unexpected published payload: %+v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("want the ingested measurement republished on the sensor data topic")
	}
}

func TestIngestReportsNumericValueToNoveltyDetector(t *testing.T) {
	novel := &fakeNovelty{}
	w := newTestWorker(nil, novel, nil)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	if err := w.Ingest(heartbeatMeasurement(88, time.Now())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(novel.reported) != 1 || novel.reported[0] != 88 {
		t.Fatalf("want novelty detector to observe 88, got %v", novel.reported)
	}
}

func TestMaybePushBackpressurePushesOnFirstMeasurement(t *testing.T) {
	calc := &fakeCalc{windowMS: 500, level: "high"}
	conn := &fakeConnector{}
	w := newTestWorker(calc, nil, conn)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	if err := w.Ingest(heartbeatMeasurement(72, time.Now())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(conn.pushed) != 1 {
		t.Fatalf("want exactly one backpressure push for the first measurement, got %d", len(conn.pushed))
	}
	if conn.pushed[0].AttentionLevel != "high" {
		t.Fatalf("unexpected pushed level: %+v", conn.pushed[0])
	}
}

func TestMaybePushBackpressureSkipsWhenUnchanged(t *testing.T) {
	calc := &fakeCalc{windowMS: 500, level: "high"}
	conn := &fakeConnector{}
	w := newTestWorker(calc, nil, conn)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	now := time.Now()
	if err := w.Ingest(heartbeatMeasurement(72, now)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := w.Ingest(heartbeatMeasurement(73, now.Add(time.Millisecond))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(conn.pushed) != 1 {
		t.Fatalf("want no additional push when level and window are unchanged, got %d pushes", len(conn.pushed))
	}
}

func TestMaybePushBackpressurePushesOnLevelChange(t *testing.T) {
	calc := &fakeCalc{windowMS: 500, level: "high"}
	conn := &fakeConnector{}
	w := newTestWorker(calc, nil, conn)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	now := time.Now()
	if err := w.Ingest(heartbeatMeasurement(72, now)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	calc.level = "low"
	if err := w.Ingest(heartbeatMeasurement(73, now.Add(time.Millisecond))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(conn.pushed) != 2 {
		t.Fatalf("want a second push once the attention level changes, got %d", len(conn.pushed))
	}
}

func TestMaybePushBackpressureBoostOverridesLevelToHigh(t *testing.T) {
	calc := &fakeCalc{windowMS: 500, level: "low"}
	novel := &fakeNovelty{boosted: true}
	conn := &fakeConnector{}
	w := newTestWorker(calc, novel, conn)
	go w.Run(context.Background())
	defer w.Shutdown(context.Background())

	if err := w.Ingest(heartbeatMeasurement(72, time.Now())); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(conn.pushed) != 1 || conn.pushed[0].AttentionLevel != "high" {
		t.Fatalf("want a novelty boost to force the pushed level to high, got %+v", conn.pushed)
	}
}

func TestSeedReturnsEmptyForUnknownAttribute(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	if got := w.Seed("unknown", 0, ^uint64(0), 10); got != nil {
		t.Fatalf("want nil for an unknown attribute, got %+v", got)
	}
}

func TestStatusStartsOnlineAndGoesOfflineAfterGrace(t *testing.T) {
	bus := pubsub.New(8)
	cfg := Config{
		SensorID:      "s1",
		Attributes:    []Attribute{{ID: "hr", Type: "heartrate"}},
		DefaultWindow: 100,
		LateTolerance: 10 * time.Second,
		OfflineGrace:  40 * time.Millisecond,
		BaseBatchMS:   1000,
	}
	w := NewWorker(cfg, bus, nil, nil, nil)
	if w.Status() != StatusOnline {
		t.Fatal("want a freshly constructed worker to start online")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Shutdown(context.Background())

	time.Sleep(200 * time.Millisecond)
	if w.Status() != StatusOffline {
		t.Fatal("want the worker to mark itself offline after the grace period elapses with no ingests")
	}
}

func TestKeyReturnsSensorID(t *testing.T) {
	w := newTestWorker(nil, nil, nil)
	if w.Key() != "s1" {
		t.Fatalf("want Key() to return the sensor ID, got %q", w.Key())
	}
}
