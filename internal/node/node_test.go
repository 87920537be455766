package node

import (
	"context"
	"testing"
	"time"

	"github.com/adiibanez/sensocto/internal/catalog"
	"github.com/adiibanez/sensocto/internal/cmn/config"
	"github.com/adiibanez/sensocto/internal/sensor"
)

type fakeConnector struct{}

func (fakeConnector) SendBackpressureConfig(string, sensor.BackpressureConfig) error { return nil }

type fakeCatalog struct{}

func (fakeCatalog) ListSensors(context.Context) ([]catalog.Sensor, error) { return nil, nil }
func (fakeCatalog) GetSensor(context.Context, string) (catalog.Sensor, error) {
	return catalog.Sensor{}, nil
}
func (fakeCatalog) GetAttributes(context.Context, string) ([]catalog.Attribute, error) {
	return nil, nil
}
func (fakeCatalog) UpsertSensor(context.Context, catalog.Sensor) error { return nil }

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.MaxSensorsPerNode = 10
	n, err := New(cfg, fakeCatalog{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestSpawnSensorIsIdempotent(t *testing.T) {
	n := newTestNode(t)
	attrs := []sensor.Attribute{{ID: "hr", Type: "heartrate"}}

	w1, err := n.SpawnSensor(context.Background(), "s1", "u1", attrs, fakeConnector{})
	if err != nil {
		t.Fatalf("SpawnSensor: %v", err)
	}
	w2, err := n.SpawnSensor(context.Background(), "s1", "u1", attrs, fakeConnector{})
	if err != nil {
		t.Fatalf("SpawnSensor (repeat): %v", err)
	}
	if w1 != w2 {
		t.Fatal("want spawning the same sensor ID twice to return the same worker")
	}
	if got := len(n.Registry().Children("sensor")); got != 1 {
		t.Fatalf("want exactly one spawned sensor, got %d", got)
	}
}

func TestSpawnSensorRefusedAfterDrain(t *testing.T) {
	n := newTestNode(t)
	if err := n.Drain(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Drain with no active sessions: %v", err)
	}

	_, err := n.SpawnSensor(context.Background(), "s1", "u1", nil, fakeConnector{})
	if err != ErrDraining {
		t.Fatalf("want ErrDraining after Drain, got %v", err)
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	n := newTestNode(t)

	w1, err := n.JoinRoom("r1")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	w2, err := n.JoinRoom("r1")
	if err != nil {
		t.Fatalf("JoinRoom (repeat): %v", err)
	}
	if w1 != w2 {
		t.Fatal("want joining the same room twice to return the same worker")
	}
}

func TestJoinRoomRefusedAfterDrain(t *testing.T) {
	n := newTestNode(t)
	if err := n.Drain(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, err := n.JoinRoom("r1"); err != ErrDraining {
		t.Fatalf("want ErrDraining after Drain, got %v", err)
	}
}

func TestDrainReturnsImmediatelyWithNoActiveSessions(t *testing.T) {
	n := newTestNode(t)
	start := time.Now()
	if err := n.Drain(context.Background(), time.Second); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("want Drain to return promptly when there is nothing to wait for")
	}
}

func TestStatusSnapshotReflectsSpawnedWork(t *testing.T) {
	n := newTestNode(t)
	if _, err := n.SpawnSensor(context.Background(), "s1", "u1", nil, fakeConnector{}); err != nil {
		t.Fatalf("SpawnSensor: %v", err)
	}
	if _, err := n.JoinRoom("r1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	status := n.StatusSnapshot()
	if status.ActiveSensors != 1 {
		t.Fatalf("want 1 active sensor, got %d", status.ActiveSensors)
	}
	if status.ActiveRooms != 1 {
		t.Fatalf("want 1 active room, got %d", status.ActiveRooms)
	}
	if status.LoadLevel == "" {
		t.Fatal("want a non-empty load level string")
	}
}

func TestMailboxDepthAdapterTracksSensorCount(t *testing.T) {
	n := newTestNode(t)
	adapter := &mailboxDepthAdapter{registry: n.Registry()}
	if got := adapter.MaxMailboxDepth(); got != 0 {
		t.Fatalf("want 0 before any sensor spawns, got %d", got)
	}
	if _, err := n.SpawnSensor(context.Background(), "s1", "u1", nil, fakeConnector{}); err != nil {
		t.Fatalf("SpawnSensor: %v", err)
	}
	if got := adapter.MaxMailboxDepth(); got != 1 {
		t.Fatalf("want 1 after spawning a sensor, got %d", got)
	}
}

func TestActiveSensorsAdapterListsSpawnedIDs(t *testing.T) {
	n := newTestNode(t)
	adapter := &activeSensorsAdapter{registry: n.Registry()}
	if _, err := n.SpawnSensor(context.Background(), "s1", "u1", nil, fakeConnector{}); err != nil {
		t.Fatalf("SpawnSensor: %v", err)
	}
	ids := adapter.ActiveSensorIDs()
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("want [s1], got %v", ids)
	}
}
