// Package node wires every domain package into one running process:
// config, pub/sub, the actor fabric, the sensor pipeline, attention,
// load, the biomimetic layer, and rooms, started in dependency order
// through internal/supervision.Tree. cmd/sensoctod is a thin CLI shell
// around this package, separate from the library packages it drives.
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/actor"
	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/bio/arbiter"
	"github.com/adiibanez/sensocto/internal/bio/circadian"
	"github.com/adiibanez/sensocto/internal/bio/homeostat"
	"github.com/adiibanez/sensocto/internal/bio/novelty"
	"github.com/adiibanez/sensocto/internal/bio/predictive"
	"github.com/adiibanez/sensocto/internal/catalog"
	"github.com/adiibanez/sensocto/internal/cmn/config"
	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/load"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/room"
	"github.com/adiibanez/sensocto/internal/room/snapshot"
	"github.com/adiibanez/sensocto/internal/sensor"
	"github.com/adiibanez/sensocto/internal/supervision"
	"github.com/adiibanez/sensocto/internal/telemetry"
)

// ErrDraining is returned by SpawnSensor/JoinRoom once the node has
// started draining (§6 `node drain`: refuse new joins).
var ErrDraining = errors.New("node: draining, refusing new joins")

// Node is the single running instance of sensoctod.
type Node struct {
	cfg *config.Config
	bus *pubsub.Bus

	registry *actor.Registry

	attentionReg *attention.Registry
	loadMonitor  *load.Monitor
	noveltyDet   *novelty.Detector
	predictive   *predictive.Learner
	homeostat    *homeostat.Tuner
	arbiter      *arbiter.Arbiter
	circadian    *circadian.Scheduler

	catalog catalog.Client
	store   *snapshot.RoomStore

	tree *supervision.Tree

	mu       sync.Mutex
	draining bool
}

// New builds every component but does not start any goroutines — call
// Start to bring the supervision tree up.
func New(cfg *config.Config, catalogClient catalog.Client, store *snapshot.RoomStore) (*Node, error) {
	bus := pubsub.New(cfg.PubSub.SubscriberQueueSize)
	registry := actor.NewRegistry(cfg.MaxSensorsPerNode)

	attentionReg, err := attention.New(bus, cfg)
	if err != nil {
		return nil, err
	}

	loadMonitor := load.New(bus, cfg.Load.SamplePeriod, cfg.MailboxHighWater)
	noveltyDet := novelty.New(bus, cfg.Bio.NoveltyThreshold, cfg.Bio.NoveltyDebounce)
	predictiveLearner := predictive.New(bus)
	homeostatTuner := homeostat.New(bus, cfg.Bio.HomeostasisPeriod)
	circadianSched := circadian.New(bus, loadMonitor, cfg.Bio.CircadianPeriod)

	sensorsAdapter := &activeSensorsAdapter{registry: registry}
	arbiterLayer := arbiter.New(sensorsAdapter, attentionReg, noveltyDet, cfg.Bio.ArbiterPeriod)

	attentionReg.SetProviders(loadMonitor, noveltyDet, predictiveLearner, arbiterLayer, circadianSched)
	loadMonitor.SetProviders(&mailboxDepthAdapter{registry: registry}, homeostatTuner, homeostatTuner)

	n := &Node{
		cfg:          cfg,
		bus:          bus,
		registry:     registry,
		attentionReg: attentionReg,
		loadMonitor:  loadMonitor,
		noveltyDet:   noveltyDet,
		predictive:   predictiveLearner,
		homeostat:    homeostatTuner,
		arbiter:      arbiterLayer,
		circadian:    circadianSched,
		catalog:      catalogClient,
		store:        store,
	}

	n.tree = supervision.NewTree(
		supervision.Stage{
			Name:              "infrastructure",
			RestartDownstream: true,
			Components: []supervision.Component{
				{Name: "attention-coordinator", Start: attentionReg.Run},
				{Name: "load-monitor", Start: loadMonitor.Run},
			},
		},
		supervision.Stage{
			Name: "biomimetic",
			Components: []supervision.Component{
				{Name: "novelty-detector", Start: noveltyDet.Run},
				{Name: "predictive-learner", Start: predictiveLearner.Run},
				{Name: "homeostatic-tuner", Start: homeostatTuner.Run},
				{Name: "circadian-scheduler", Start: circadianSched.Run},
				{Name: "competitive-arbiter", Start: arbiterLayer.Run},
			},
		},
	)

	return n, nil
}

func (n *Node) Bus() *pubsub.Bus               { return n.bus }
func (n *Node) Registry() *actor.Registry      { return n.registry }
func (n *Node) Attention() *attention.Registry { return n.attentionReg }

// Start brings the supervision tree up (pub/sub and the actor registry
// are passive data structures, not goroutines, so only the periodic
// coordinators need starting here).
func (n *Node) Start(ctx context.Context) error {
	return n.tree.Start(ctx)
}

// Stop tears the tree down within budget.
func (n *Node) Stop(ctx context.Context) {
	n.tree.Stop(ctx)
}

// SpawnSensor idempotently spawns a supervised sensor.Worker and wires a
// bridge goroutine feeding its attention-level changes to the predictive
// learner (§4.7's "the sensor pipeline ... calls Observe on every level
// change").
func (n *Node) SpawnSensor(ctx context.Context, sensorID, owner string, attrs []sensor.Attribute, conn sensor.Connector) (*sensor.Worker, error) {
	n.mu.Lock()
	draining := n.draining
	n.mu.Unlock()
	if draining {
		return nil, ErrDraining
	}

	cfg := n.cfg
	h, err := n.registry.Spawn("sensor", actor.DomainDomain, sensorID, func() (actor.Worker, error) {
		w := sensor.NewWorker(sensor.Config{
			SensorID:      sensorID,
			Owner:         owner,
			Attributes:    attrs,
			DefaultWindow: cfg.Sensor.WindowSize,
			WindowByType:  cfg.Sensor.WindowSizeByType,
			LateTolerance: cfg.Sensor.LateToleranceDefault,
			OfflineGrace:  cfg.Sensor.OfflineGrace,
			BaseBatchMS:   500,
		}, n.bus, n.attentionReg, n.noveltyDet, conn)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	worker := h.Worker().(*sensor.Worker)

	go n.bridgeAttention(ctx, sensorID)

	telemetry.ActiveSensors.Set(float64(len(n.registry.Children("sensor"))))
	return worker, nil
}

// bridgeAttention forwards attention:{sensor} level changes into the
// predictive learner until ctx is cancelled. It does not watch the
// sensor's worker, so it keeps running after that worker exits.
func (n *Node) bridgeAttention(ctx context.Context, sensorID string) {
	sub := n.bus.Subscribe(ctx, pubsub.AttentionSensor(sensorID))
	defer sub.Unsubscribe()
	for msg := range sub.Messages() {
		lc, ok := msg.Payload.(attention.LevelChange)
		if !ok {
			continue
		}
		n.predictive.Observe(sensorID, lc.Level, time.Now())
	}
}

// JoinRoom idempotently spawns a supervised room.Worker for roomID.
func (n *Node) JoinRoom(roomID string) (*room.Worker, error) {
	n.mu.Lock()
	draining := n.draining
	n.mu.Unlock()
	if draining {
		return nil, ErrDraining
	}

	var store room.SnapshotStore
	if n.store != nil {
		store = n.store
	}
	h, err := n.registry.Spawn("room", actor.DomainDomain, roomID, func() (actor.Worker, error) {
		return room.NewWorker(roomID, n.cfg.NodeName, n.bus, store), nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.ActiveRooms.Set(float64(len(n.registry.Children("room"))))
	return h.Worker().(*room.Worker), nil
}

// Drain refuses new joins and waits (up to deadline) for active sensor
// and room sessions to end naturally (§6 `node drain`).
func (n *Node) Drain(ctx context.Context, deadline time.Duration) error {
	n.mu.Lock()
	n.draining = true
	n.mu.Unlock()

	nlog.Infof("node: draining, waiting up to %s for active sessions", deadline)
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(n.registry.Children("sensor"))+len(n.registry.Children("room")) == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			return drainCtx.Err()
		case <-ticker.C:
		}
	}
}

// Status is the JSON snapshot for `node status` (§6).
type Status struct {
	ActiveSensors int            `json:"active_sensors"`
	ActiveRooms   int            `json:"active_rooms"`
	LoadLevel     string         `json:"load_level"`
	LoadByLevel   map[string]int `json:"load_by_level"`
}

// StatusSnapshot assembles the operational JSON report.
func (n *Node) StatusSnapshot() Status {
	return Status{
		ActiveSensors: len(n.registry.Children("sensor")),
		ActiveRooms:   len(n.registry.Children("room")),
		LoadLevel:     n.loadMonitor.LevelString(),
		LoadByLevel:   map[string]int{n.loadMonitor.LevelString(): 1},
	}
}

// mailboxDepthAdapter reports the live sensor count as a stand-in for
// mailbox depth (the load monitor divides it by MailboxHighWater), since
// individual worker inbox depths aren't exported across the actor.Worker
// interface boundary.
type mailboxDepthAdapter struct {
	registry *actor.Registry
}

func (a *mailboxDepthAdapter) MaxMailboxDepth() int {
	return len(a.registry.Children("sensor"))
}

type activeSensorsAdapter struct {
	registry *actor.Registry
}

func (a *activeSensorsAdapter) ActiveSensorIDs() []string {
	return a.registry.Children("sensor")
}
