// Package room implements the CRDT document from §4.11: per-field
// merge functions (LWW registers, an OR-Set with causal tombstones, an
// append-only ordered list, and an expiring presence map) composing into a
// single join-semilattice document, plus the gossip-over-pubsub worker
// that keeps replicas converging.
//
// The "merge beats rebuild" posture (idempotent re-application rather
// than destructive overwrite) generalizes the same idea found in
// transactional copy-bucket reconciliation into a full CRDT join.
package room

import "time"

// LWWRegister is a last-writer-wins scalar field: wall-clock tiebreak,
// node-id as the final tiebreak (§4.11).
type LWWRegister struct {
	Value     any
	Timestamp time.Time
	NodeID    string
}

// Merge returns the LWW-winning register between r and other.
func (r LWWRegister) Merge(other LWWRegister) LWWRegister {
	if other.Timestamp.After(r.Timestamp) {
		return other
	}
	if r.Timestamp.After(other.Timestamp) {
		return r
	}
	if other.NodeID > r.NodeID {
		return other
	}
	return r
}

// orElement is one member of an ORSet: when present, it's included;
// Removed becomes true only once a tombstone's clock dominates the
// element's own add clock (so a concurrent add is never silently
// resurrected by an older remove, and a removal that truly happens-after
// every known add sticks).
type orElement struct {
	AddClock    VectorClock
	Removed     bool
	RemoveClock VectorClock
}

// ORSet is the add/remove set used for the member map and sensor-binding
// set (§4.11: "union; removals carried as tombstones with vector-clock
// causality").
type ORSet struct {
	elements map[string]orElement
}

func NewORSet() *ORSet { return &ORSet{elements: make(map[string]orElement)} }

// Add records element as present as of clock (idempotent; a later Add
// after a Remove resurrects the element only if its clock is not
// dominated by the existing tombstone).
func (s *ORSet) Add(element string, clock VectorClock) {
	e, ok := s.elements[element]
	if !ok {
		s.elements[element] = orElement{AddClock: clock.Clone()}
		return
	}
	e.AddClock = Merge(e.AddClock, clock)
	if e.Removed && !Dominates(e.RemoveClock, e.AddClock) {
		// the new add is not dominated by the existing tombstone: it
		// resurrects the element.
		e.Removed = false
	}
	s.elements[element] = e
}

// Remove tombstones element as of clock.
func (s *ORSet) Remove(element string, clock VectorClock) {
	e, ok := s.elements[element]
	if !ok {
		s.elements[element] = orElement{RemoveClock: clock.Clone(), Removed: true}
		return
	}
	e.RemoveClock = Merge(e.RemoveClock, clock)
	if Dominates(e.RemoveClock, e.AddClock) {
		e.Removed = true
	}
	s.elements[element] = e
}

// Contains reports whether element is currently present.
func (s *ORSet) Contains(element string) bool {
	e, ok := s.elements[element]
	return ok && !e.Removed
}

// Members lists the currently-present elements.
func (s *ORSet) Members() []string {
	out := make([]string, 0, len(s.elements))
	for k, e := range s.elements {
		if !e.Removed {
			out = append(out, k)
		}
	}
	return out
}

// Merge joins two ORSets element-wise: add clocks merge (max), remove
// clocks merge (max), and an element is removed in the result iff its
// merged remove clock dominates its merged add clock.
func (s *ORSet) Merge(other *ORSet) *ORSet {
	out := NewORSet()
	keys := make(map[string]struct{})
	for k := range s.elements {
		keys[k] = struct{}{}
	}
	for k := range other.elements {
		keys[k] = struct{}{}
	}
	for k := range keys {
		a, aok := s.elements[k]
		b, bok := other.elements[k]
		var merged orElement
		switch {
		case aok && bok:
			merged.AddClock = Merge(a.AddClock, b.AddClock)
			merged.RemoveClock = Merge(a.RemoveClock, b.RemoveClock)
		case aok:
			merged = a
		default:
			merged = b
		}
		if merged.RemoveClock != nil && Dominates(merged.RemoveClock, merged.AddClock) {
			merged.Removed = true
		}
		out.elements[k] = merged
	}
	return out
}

// Annotation is one entry in the append-only annotation list (§3, §4.11):
// ordered by (timestamp, author), appends commute.
type Annotation struct {
	ID        string
	Author    string
	Timestamp time.Time
	Body      any
}

// PresenceEntry is one ephemeral presence-map row, expiring 30s after its
// last heartbeat "regardless of clock skew" (§4.11) — i.e. judged against
// the local wall clock at read time, not a vector clock.
type PresenceEntry struct {
	UserID        string
	LastHeartbeat time.Time
}

func (p PresenceEntry) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastHeartbeat) > timeout
}
