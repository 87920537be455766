package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultPopulatesBaselineValues(t *testing.T) {
	c := Default()
	if c.MaxSensorsPerNode != 10_000 {
		t.Fatalf("want 10000 max sensors per node, got %d", c.MaxSensorsPerNode)
	}
	if c.Sensor.WindowSize != 10_000 {
		t.Fatalf("want 10000 sensor window size, got %d", c.Sensor.WindowSize)
	}
	if c.Sensor.LateToleranceDefault != 10*time.Second {
		t.Fatalf("want 10s default late tolerance, got %v", c.Sensor.LateToleranceDefault)
	}
	if c.Attention.HoverBoost != 2*time.Second {
		t.Fatalf("want 2s hover boost, got %v", c.Attention.HoverBoost)
	}
	if c.PubSub.SubscriberQueueSize != 1024 {
		t.Fatalf("want 1024 subscriber queue size, got %d", c.PubSub.SubscriberQueueSize)
	}
	if c.Room.IdleTimeout != 5*time.Minute {
		t.Fatalf("want 5m room idle timeout, got %v", c.Room.IdleTimeout)
	}
}

func TestLevelTuningReturnsExactLevel(t *testing.T) {
	c := Default()
	tuning := c.LevelTuning("high")
	if tuning.Multiplier != 0.2 || tuning.MinMS != 100 || tuning.MaxMS != 500 {
		t.Fatalf("unexpected high tuning: %+v", tuning)
	}
}

func TestLevelTuningFallsBackToMedium(t *testing.T) {
	c := Default()
	want := c.Attention.Levels["medium"]
	got := c.LevelTuning("unknown-level")
	if got != want {
		t.Fatalf("want fallback to medium tuning %+v, got %+v", want, got)
	}
}

func TestGlobalOwnerGetReturnsInstalledSnapshot(t *testing.T) {
	original := GCO.Get()
	defer GCO.Put(original)

	c := Default()
	c.NodeName = "custom-node"
	GCO.Put(c)

	if got := GCO.Get(); got.NodeName != "custom-node" {
		t.Fatalf("want the installed snapshot to be visible, got %q", got.NodeName)
	}
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "node_name: ingest-1\nmax_sensors_per_node: 42\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	owner := &globalOwner{}
	if err := owner.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := owner.Get()
	if got.NodeName != "ingest-1" {
		t.Fatalf("want overlaid node name, got %q", got.NodeName)
	}
	if got.MaxSensorsPerNode != 42 {
		t.Fatalf("want overlaid max sensors, got %d", got.MaxSensorsPerNode)
	}
	// fields absent from the YAML should keep their Default() value.
	if got.Sensor.WindowSize != 10_000 {
		t.Fatalf("want default window size preserved, got %d", got.Sensor.WindowSize)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	owner := &globalOwner{}
	if err := owner.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("want an error loading a nonexistent config file")
	}
}

func TestLoadReturnsErrorForMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("node_name: [unterminated"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	owner := &globalOwner{}
	if err := owner.Load(path); err == nil {
		t.Fatal("want an error parsing malformed YAML")
	}
}

func TestWatchForReloadPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("node_name: initial\n"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	owner := &globalOwner{}
	if err := owner.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := owner.WatchForReload(path); err != nil {
		t.Fatalf("WatchForReload: %v", err)
	}
	defer owner.StopWatch()

	if err := os.WriteFile(path, []byte("node_name: reloaded\n"), 0o644); err != nil {
		t.Fatalf("rewrite temp config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if owner.Get().NodeName == "reloaded" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("want the watcher to pick up the rewritten config within the deadline")
}

func TestWatchForReloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("node_name: initial\n"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	owner := &globalOwner{}
	if err := owner.WatchForReload(path); err != nil {
		t.Fatalf("WatchForReload: %v", err)
	}
	defer owner.StopWatch()

	if err := owner.WatchForReload(path); err != nil {
		t.Fatalf("second WatchForReload call should be a no-op, got: %v", err)
	}
}
