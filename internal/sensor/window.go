package sensor

import "sort"

// Measurement is one timestamped sample on a sensor attribute (§3).
type Measurement struct {
	TimestampMS  uint64
	DelaySeconds float64
	AttributeID  string
	Payload      Payload
}

// AttributeWindow is the bounded ring buffer of the last N measurements
// for one attribute, sorted ascending by timestamp after every insert
// (invariants: len <= N, timestamps non-decreasing — §3, §8 invariants 1-2).
type AttributeWindow struct {
	capacity int
	data     []Measurement
}

func NewAttributeWindow(capacity int) *AttributeWindow {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &AttributeWindow{capacity: capacity}
}

// Insert places m in timestamp order, evicting the oldest entry once the
// window is at capacity. Out-of-tolerance / duplicate filtering happens
// one layer up in Worker.ingestOne; Insert assumes m already passed those
// checks.
func (w *AttributeWindow) Insert(m Measurement) {
	idx := sort.Search(len(w.data), func(i int) bool {
		return w.data[i].TimestampMS >= m.TimestampMS
	})
	w.data = append(w.data, Measurement{})
	copy(w.data[idx+1:], w.data[idx:])
	w.data[idx] = m

	if len(w.data) > w.capacity {
		w.data = w.data[len(w.data)-w.capacity:]
	}
}

// Len returns the current occupancy.
func (w *AttributeWindow) Len() int { return len(w.data) }

// Latest returns the most recent measurement, if any.
func (w *AttributeWindow) Latest() (Measurement, bool) {
	if len(w.data) == 0 {
		return Measurement{}, false
	}
	return w.data[len(w.data)-1], true
}

// Seed returns the sub-window in [from, to] (inclusive) in ascending
// timestamp order; when limit > 0 only the most recent limit entries are
// kept (§4.3 seed operation). The slice
// returned is a copy: external reads never alias the owner's live buffer
// (§5 "External reads go through get_latest/seed which copy out").
func (w *AttributeWindow) Seed(from, to uint64, limit int) []Measurement {
	lo := sort.Search(len(w.data), func(i int) bool { return w.data[i].TimestampMS >= from })
	hi := sort.Search(len(w.data), func(i int) bool { return w.data[i].TimestampMS > to })
	if lo >= hi {
		return nil
	}
	span := w.data[lo:hi]
	if limit > 0 && len(span) > limit {
		span = span[len(span)-limit:]
	}
	out := make([]Measurement, len(span))
	copy(out, span)
	return out
}
