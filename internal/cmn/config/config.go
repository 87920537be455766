// Package config implements the single global config owner (GCO). A
// *Config snapshot is loaded once at
// startup and swapped atomically on every reload; readers across every
// package call config.GCO.Get() and never see a torn read.
//
// The load/reload mechanism (YAML + fsnotify watch) is grounded on
// 99souls-ariadne's engine/config package, which is the only repo in the
// corpus that demonstrates a live-reloaded YAML config for a long-running
// daemon.
package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
)

// AttentionLevelTuning is the per-level multiplier/min/max row from §4.4.
type AttentionLevelTuning struct {
	Multiplier float64 `yaml:"multiplier"`
	MinMS      int     `yaml:"min_ms"`
	MaxMS      int     `yaml:"max_ms"`
}

// Config is the full process configuration. Zero value is never valid;
// Default() returns a usable baseline which Load() overlays from YAML.
type Config struct {
	NodeName             string `yaml:"node_name"`
	ClusterTopologyQuery string `yaml:"cluster_topology_query"`
	CatalogURL           string `yaml:"catalog_url"`
	BucketName           string `yaml:"bucket_name"`
	MaxSensorsPerNode    int    `yaml:"max_sensors_per_node"`
	MailboxHighWater     int    `yaml:"mailbox_high_water"`

	Sensor struct {
		WindowSize           int            `yaml:"window_size"`
		WindowSizeByType     map[string]int `yaml:"window_size_by_type"`
		LateToleranceDefault time.Duration  `yaml:"late_tolerance_default"`
		EarlyTolerance       time.Duration  `yaml:"early_tolerance"`
		OfflineGrace         time.Duration  `yaml:"offline_grace"`
	} `yaml:"sensor"`

	Attention struct {
		Levels        map[string]AttentionLevelTuning `yaml:"levels"`
		HoverBoost    time.Duration                    `yaml:"hover_boost"`
		StaleAfter    time.Duration                    `yaml:"stale_after"`
		CleanupPeriod time.Duration                    `yaml:"cleanup_period"`
	} `yaml:"attention"`

	Load struct {
		SamplePeriod time.Duration `yaml:"sample_period"`
	} `yaml:"load"`

	Bio struct {
		NoveltyThreshold  float64       `yaml:"novelty_threshold"`
		NoveltyDebounce   time.Duration `yaml:"novelty_debounce"`
		ArbiterPeriod     time.Duration `yaml:"arbiter_period"`
		CircadianPeriod   time.Duration `yaml:"circadian_period"`
		HomeostasisPeriod time.Duration `yaml:"homeostasis_period"`
	} `yaml:"bio"`

	PubSub struct {
		SubscriberQueueSize int `yaml:"subscriber_queue_size"`
	} `yaml:"pubsub"`

	Room struct {
		IdleTimeout       time.Duration `yaml:"idle_timeout"`
		DebounceField     time.Duration `yaml:"debounce_field"`
		PresenceTimeout   time.Duration `yaml:"presence_timeout"`
	} `yaml:"room"`
}

// Default returns the baseline configuration, used when no YAML file is
// present (e.g. in tests).
func Default() *Config {
	c := &Config{
		NodeName:          envOr("NODE_NAME", "sensocto-node"),
		MaxSensorsPerNode: 10_000,
		MailboxHighWater:  10_000,
	}
	c.ClusterTopologyQuery = envOr("CLUSTER_TOPOLOGY_QUERY", "")
	c.CatalogURL = envOr("CATALOG_URL", "")
	c.BucketName = envOr("BUCKET_NAME", "")

	c.Sensor.WindowSize = 10_000
	c.Sensor.WindowSizeByType = map[string]int{}
	c.Sensor.LateToleranceDefault = 10 * time.Second
	c.Sensor.EarlyTolerance = 2 * time.Second
	c.Sensor.OfflineGrace = 60 * time.Second

	c.Attention.Levels = map[string]AttentionLevelTuning{
		"high":   {Multiplier: 0.2, MinMS: 100, MaxMS: 500},
		"medium": {Multiplier: 1.0, MinMS: 500, MaxMS: 2000},
		"low":    {Multiplier: 4.0, MinMS: 2000, MaxMS: 10_000},
		"none":   {Multiplier: 10.0, MinMS: 5000, MaxMS: 30_000},
	}
	c.Attention.HoverBoost = 2 * time.Second
	c.Attention.StaleAfter = 60 * time.Second
	c.Attention.CleanupPeriod = 30 * time.Second

	c.Load.SamplePeriod = 2 * time.Second

	c.Bio.NoveltyThreshold = 3.0
	c.Bio.NoveltyDebounce = 10 * time.Second
	c.Bio.ArbiterPeriod = 5 * time.Second
	c.Bio.CircadianPeriod = 10 * time.Minute
	c.Bio.HomeostasisPeriod = time.Hour

	c.PubSub.SubscriberQueueSize = 1024

	c.Room.IdleTimeout = 5 * time.Minute
	c.Room.DebounceField = 100 * time.Millisecond
	c.Room.PresenceTimeout = 30 * time.Second
	return c
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// globalOwner is the single process-wide config owner: an atomically
// swappable pointer.
type globalOwner struct {
	cur      atomic.Pointer[Config]
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching bool
}

// GCO is the package-level singleton every component reads through.
var GCO = &globalOwner{}

func init() { GCO.cur.Store(Default()) }

// Get returns the current config snapshot. Never blocks, never torn.
func (g *globalOwner) Get() *Config { return g.cur.Load() }

// Put installs a new snapshot.
func (g *globalOwner) Put(c *Config) { g.cur.Store(c) }

// Load reads path, parses YAML over a copy of Default(), and installs it.
func (g *globalOwner) Load(path string) error {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	g.Put(c)
	return nil
}

// WatchForReload starts an fsnotify watch on path and hot-reloads the
// config on every write event, logging (never panicking) on parse failure
// so a bad edit never takes the node down.
func (g *globalOwner) WatchForReload(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watching {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: new watcher")
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return errors.Wrapf(err, "config: watch %s", path)
	}
	g.watcher = w
	g.watching = true
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := g.Load(path); err != nil {
						nlog.Errorf("config: reload %s failed: %v", path, err)
						continue
					}
					nlog.Infof("config: reloaded %s", path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				nlog.Errorf("config: watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (g *globalOwner) StopWatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher != nil {
		g.watcher.Close()
	}
	g.watching = false
}

// LevelTuning returns the tuning row for a level, falling back to the
// "medium" row if the config omits it. attention.CalculateBatchWindow
// does not read this table; it uses its own fixed per-level rows with
// the same default values.
func (c *Config) LevelTuning(level string) AttentionLevelTuning {
	if t, ok := c.Attention.Levels[level]; ok {
		return t
	}
	return c.Attention.Levels["medium"]
}
