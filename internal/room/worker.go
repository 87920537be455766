package room

import (
	"context"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/pubsub"
)

// idleTimeout is how long a room worker waits with zero present members
// before snapshotting and exiting (§4.11: "rooms are ephemeral processes;
// no members for 5 minutes tears the worker down").
const idleTimeout = 5 * time.Minute

// localDebounce coalesces a burst of local field edits (e.g. a dragged
// slider) into one gossiped Change every 100ms, same idea as the sensor
// pipeline's batch windows but fixed rather than attention-scaled, since
// room edits aren't attention-governed (§4.11).
const localDebounce = 100 * time.Millisecond

// SnapshotStore persists and restores a room's materialized state across
// worker restarts (implemented by internal/room/snapshot + a
// content-addressed internal/snapshot/store backend).
type SnapshotStore interface {
	Save(ctx context.Context, roomID string, state State) error
	Load(ctx context.Context, roomID string) (State, bool, error)
}

// Worker is the per-room actor: applies local changes, gossips them,
// merges remote changes from peers, and snapshots to survive a restart.
// Implements actor.Worker.
type Worker struct {
	roomID string
	nodeID string
	bus    *pubsub.Bus
	store  SnapshotStore

	doc *Document

	mu      sync.Mutex
	pending map[string]Change      // field -> last pending local change, debounced
	timers  map[string]*time.Timer // field -> its own debounce timer
	members int

	lastActivity time.Time
	outbound     chan Change
}

func NewWorker(roomID, nodeID string, bus *pubsub.Bus, store SnapshotStore) *Worker {
	return &Worker{
		roomID:       roomID,
		nodeID:       nodeID,
		bus:          bus,
		store:        store,
		doc:          NewDocument(roomID),
		pending:      make(map[string]Change),
		timers:       make(map[string]*time.Timer),
		lastActivity: time.Now(),
		outbound:     make(chan Change, 256),
	}
}

func (w *Worker) Key() string { return w.roomID }

// Document exposes the underlying CRDT state for get_state / apply_change
// handlers wired in from the connector layer.
func (w *Worker) Document() *Document { return w.doc }

// Run restores from snapshot if present, then gossips/merges/idle-checks
// until ctx is cancelled or the room goes idle.
func (w *Worker) Run(ctx context.Context) error {
	if w.store != nil {
		if state, ok, err := w.store.Load(ctx, w.roomID); err != nil {
			nlog.Warnf("room %s: snapshot load: %v", w.roomID, err)
		} else if ok {
			w.restoreFrom(state)
		}
	}

	sub := w.bus.Subscribe(ctx, pubsub.RoomCRDT(w.roomID))
	defer sub.Unsubscribe()

	idleTicker := time.NewTicker(30 * time.Second)
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if c, ok := msg.Payload.(Change); ok {
				if c.NodeID != w.nodeID {
					w.doc.Apply(c)
					w.mu.Lock()
					w.lastActivity = time.Now()
					w.mu.Unlock()
				}
			}
		case c := <-w.outbound:
			w.bus.Publish(pubsub.RoomCRDT(w.roomID), c)
		case <-idleTicker.C:
			if w.idleFor() >= idleTimeout {
				nlog.Infof("room %s: idle %s, snapshotting and exiting", w.roomID, idleTimeout)
				w.snapshot(ctx)
				return nil
			}
		}
	}
}

func (w *Worker) idleFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.members > 0 {
		return 0
	}
	return time.Since(w.lastActivity)
}

func (w *Worker) restoreFrom(state State) {
	for field, v := range state.Fields {
		w.doc.Apply(Change{Kind: ChangeSetField, Field: field, Value: v, NodeID: w.nodeID, At: time.Now()})
	}
	for _, m := range state.Members {
		w.doc.Apply(Change{Kind: ChangeJoin, MemberID: m, NodeID: w.nodeID, Clock: state.Clock, At: time.Now()})
	}
	for _, s := range state.SensorIDs {
		w.doc.Apply(Change{Kind: ChangeBindSensor, SensorID: s, NodeID: w.nodeID, Clock: state.Clock, At: time.Now()})
	}
	for _, a := range state.Annotations {
		w.doc.Apply(Change{Kind: ChangeAnnotate, Annotation: a, NodeID: w.nodeID, At: a.Timestamp})
	}
}

func (w *Worker) snapshot(ctx context.Context) {
	if w.store == nil {
		return
	}
	state := w.doc.GetState(time.Now())
	if err := w.store.Save(ctx, w.roomID, state); err != nil {
		nlog.Warnf("room %s: snapshot save: %v", w.roomID, err)
	}
}

// Shutdown snapshots one last time and drains.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.snapshot(ctx)
	return nil
}

// Join applies a member join immediately (presence and membership changes
// are never debounced, only field edits are, per §4.11). A caller that
// doesn't already have a stable identity for the joining member (an
// anonymous viewer) passes an empty memberID and gets a generated guest
// ID back.
func (w *Worker) Join(memberID string) string {
	if memberID == "" {
		memberID = "guest-" + mustShortID()
	}
	clock := w.doc.Tick(w.nodeID)
	c := Change{Kind: ChangeJoin, MemberID: memberID, NodeID: w.nodeID, Clock: clock, At: time.Now()}
	w.doc.Apply(c)
	w.mu.Lock()
	w.members++
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.publish(c)
	return memberID
}

// mustShortID generates a short, URL-safe guest identifier. shortid's
// generator is only fallible on clock/worker-ID exhaustion, which never
// happens within one process's lifetime, so a failure here returns the
// fixed string "fallback" instead of panicking.
func mustShortID() string {
	id, err := shortid.Generate()
	if err != nil {
		return "fallback"
	}
	return id
}

func (w *Worker) Leave(memberID string) {
	clock := w.doc.Tick(w.nodeID)
	c := Change{Kind: ChangeLeave, MemberID: memberID, NodeID: w.nodeID, Clock: clock, At: time.Now()}
	w.doc.Apply(c)
	w.mu.Lock()
	if w.members > 0 {
		w.members--
	}
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.publish(c)
}

func (w *Worker) Heartbeat(memberID string) {
	c := Change{Kind: ChangeHeartbeat, MemberID: memberID, NodeID: w.nodeID, At: time.Now()}
	w.doc.Apply(c)
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.publish(c)
}

func (w *Worker) BindSensor(sensorID string) {
	clock := w.doc.Tick(w.nodeID)
	c := Change{Kind: ChangeBindSensor, SensorID: sensorID, NodeID: w.nodeID, Clock: clock, At: time.Now()}
	w.doc.Apply(c)
	w.publish(c)
}

func (w *Worker) UnbindSensor(sensorID string) {
	clock := w.doc.Tick(w.nodeID)
	c := Change{Kind: ChangeUnbindSensor, SensorID: sensorID, NodeID: w.nodeID, Clock: clock, At: time.Now()}
	w.doc.Apply(c)
	w.publish(c)
}

func (w *Worker) Annotate(a Annotation) {
	c := Change{Kind: ChangeAnnotate, Annotation: a, NodeID: w.nodeID, At: a.Timestamp}
	w.doc.Apply(c)
	w.publish(c)
}

// SetField debounces local edits to the same field within localDebounce
// before gossiping, so a dragged control doesn't flood the bus; remote
// changes always apply immediately via Run's select loop above. Each field
// gets its own timer, so editing field B mid-window doesn't delay field A's
// already-pending flush.
func (w *Worker) SetField(field string, value any) {
	clock := w.doc.Tick(w.nodeID)
	c := Change{Kind: ChangeSetField, Field: field, Value: value, NodeID: w.nodeID, Clock: clock, At: time.Now()}
	w.doc.Apply(c)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = time.Now()
	w.pending[field] = c
	if _, armed := w.timers[field]; !armed {
		w.timers[field] = time.AfterFunc(localDebounce, func() { w.flushPending(field) })
	}
}

func (w *Worker) flushPending(field string) {
	w.mu.Lock()
	c, ok := w.pending[field]
	if ok {
		delete(w.pending, field)
	}
	delete(w.timers, field)
	w.mu.Unlock()
	if ok {
		w.publish(c)
	}
}

func (w *Worker) publish(c Change) {
	select {
	case w.outbound <- c:
	default:
		nlog.Warnf("room %s: outbound gossip queue full, dropping change", w.roomID)
	}
}
