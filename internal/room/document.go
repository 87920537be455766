package room

import (
	"sort"
	"sync"
	"time"
)

// ChangeKind enumerates the mutations a client may apply to a room
// document (§4.11 apply_change operation).
type ChangeKind string

const (
	ChangeSetField     ChangeKind = "set_field"
	ChangeJoin         ChangeKind = "join"
	ChangeLeave        ChangeKind = "leave"
	ChangeBindSensor   ChangeKind = "bind_sensor"
	ChangeUnbindSensor ChangeKind = "unbind_sensor"
	ChangeAnnotate     ChangeKind = "annotate"
	ChangeHeartbeat    ChangeKind = "heartbeat"
)

// Change is one causally-stamped mutation, gossiped verbatim between
// replicas (§4.11: "replicas exchange the full op, not just the result, so
// a late-joining replica can replay history").
type Change struct {
	Kind      ChangeKind
	NodeID    string
	Clock     VectorClock
	Field     string
	Value     any
	MemberID  string
	SensorID  string
	Annotation Annotation
	At        time.Time
}

// Document is the per-room CRDT state: a join-semilattice of LWW fields,
// two OR-Sets (members, sensor bindings), an append-only annotation list
// and an expiring presence map. Merge is commutative, associative and
// idempotent (§8 invariant 8), so any gossip order converges replicas to
// the same state.
type Document struct {
	RoomID string

	mu sync.RWMutex

	fields         map[string]LWWRegister
	members        *ORSet
	sensorBindings *ORSet
	annotations    []Annotation
	presence       map[string]PresenceEntry

	clock VectorClock
}

func NewDocument(roomID string) *Document {
	return &Document{
		RoomID:         roomID,
		fields:         make(map[string]LWWRegister),
		members:        NewORSet(),
		sensorBindings: NewORSet(),
		presence:       make(map[string]PresenceEntry),
		clock:          make(VectorClock),
	}
}

// Apply applies a locally- or remotely-originated change in place. Callers
// gossip the same Change they pass here so every replica converges on an
// identical final state regardless of delivery order (idempotent: a
// replayed Change is a no-op past the first application, since every field
// mutation below goes through the same Merge the wire path uses).
func (d *Document) Apply(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock = Merge(d.clock, c.Clock)

	switch c.Kind {
	case ChangeSetField:
		reg := LWWRegister{Value: c.Value, Timestamp: c.At, NodeID: c.NodeID}
		if existing, ok := d.fields[c.Field]; ok {
			d.fields[c.Field] = existing.Merge(reg)
		} else {
			d.fields[c.Field] = reg
		}
	case ChangeJoin:
		d.members.Add(c.MemberID, c.Clock)
	case ChangeLeave:
		d.members.Remove(c.MemberID, c.Clock)
	case ChangeBindSensor:
		d.sensorBindings.Add(c.SensorID, c.Clock)
	case ChangeUnbindSensor:
		d.sensorBindings.Remove(c.SensorID, c.Clock)
	case ChangeAnnotate:
		d.insertAnnotationLocked(c.Annotation)
	case ChangeHeartbeat:
		d.presence[c.MemberID] = PresenceEntry{UserID: c.MemberID, LastHeartbeat: c.At}
	}
}

// insertAnnotationLocked keeps the annotation list ordered by
// (timestamp, author) so concurrent appends from different replicas
// converge to the same order once merged (§4.11).
func (d *Document) insertAnnotationLocked(a Annotation) {
	for _, existing := range d.annotations {
		if existing.ID == a.ID {
			return
		}
	}
	d.annotations = append(d.annotations, a)
	sort.SliceStable(d.annotations, func(i, j int) bool {
		if !d.annotations[i].Timestamp.Equal(d.annotations[j].Timestamp) {
			return d.annotations[i].Timestamp.Before(d.annotations[j].Timestamp)
		}
		return d.annotations[i].Author < d.annotations[j].Author
	})
}

// Merge joins another replica's full document state into this one
// in-place; used on reconnect to reconcile a batch of missed gossip or to
// restore from a divergent snapshot.
func (d *Document) Merge(other *Document) {
	other.mu.RLock()
	fields := make(map[string]LWWRegister, len(other.fields))
	for k, v := range other.fields {
		fields[k] = v
	}
	membersCopy := other.members
	bindingsCopy := other.sensorBindings
	annotations := make([]Annotation, len(other.annotations))
	copy(annotations, other.annotations)
	presence := make(map[string]PresenceEntry, len(other.presence))
	for k, v := range other.presence {
		presence[k] = v
	}
	clock := other.clock.Clone()
	other.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range fields {
		if existing, ok := d.fields[k]; ok {
			d.fields[k] = existing.Merge(v)
		} else {
			d.fields[k] = v
		}
	}
	d.members = d.members.Merge(membersCopy)
	d.sensorBindings = d.sensorBindings.Merge(bindingsCopy)
	for _, a := range annotations {
		d.insertAnnotationLocked(a)
	}
	for k, v := range presence {
		if existing, ok := d.presence[k]; !ok || v.LastHeartbeat.After(existing.LastHeartbeat) {
			d.presence[k] = v
		}
	}
	d.clock = Merge(d.clock, clock)
}

// State is the read-only snapshot returned by get_state (§4.11).
type State struct {
	RoomID      string
	Fields      map[string]any
	Members     []string
	SensorIDs   []string
	Annotations []Annotation
	Presence    []string
	Clock       VectorClock
}

// GetState returns the current materialized view, filtering out presence
// entries that have expired (30s heartbeat timeout, §4.11).
func (d *Document) GetState(now time.Time) State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fields := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		fields[k] = v.Value
	}

	var presence []string
	for id, entry := range d.presence {
		if !entry.Expired(now, presenceTimeout) {
			presence = append(presence, id)
		}
	}

	annotations := make([]Annotation, len(d.annotations))
	copy(annotations, d.annotations)

	return State{
		RoomID:      d.RoomID,
		Fields:      fields,
		Members:     d.members.Members(),
		SensorIDs:   d.sensorBindings.Members(),
		Annotations: annotations,
		Presence:    presence,
		Clock:       d.clock.Clone(),
	}
}

const presenceTimeout = 30 * time.Second

// Tick returns the room's vector clock advanced for nodeID, for stamping a
// locally-originated Change before gossiping it.
func (d *Document) Tick(nodeID string) VectorClock {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = d.clock.Tick(nodeID)
	return d.clock.Clone()
}
