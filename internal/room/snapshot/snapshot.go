// Package snapshot turns a room's materialized State into the wire form
// stored by internal/snapshot/store: msgpack-encoded, lz4-compressed, and
// addressed by its blake2b-256 digest (§4.11 "snapshots are
// content-addressed so two replicas that converge to the same state write
// the same blob").
//
// The msgpack layer is hand-written against msgp's low-level Append/Read
// helpers rather than `msgp`-generated code, since State carries a
// `map[string]any` field bag that the generator can't express directly;
// field values are flattened to their JSON form first (in fromState/
// toState below) and msgpacked as strings.
package snapshot

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pierrec/lz4/v3"
	"github.com/tinylib/msgp/msgp"
	"golang.org/x/crypto/blake2b"

	"github.com/adiibanez/sensocto/internal/room"
)

func unixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// fieldEntry is one flattened room.State.Fields entry.
type fieldEntry struct {
	Name string
	JSON string
}

// annotationEntry is a wire-friendly room.Annotation (Body flattened to
// JSON, Timestamp to Unix nanos for a compact msgp encoding).
type annotationEntry struct {
	ID      string
	Author  string
	AtNanos int64
	JSON    string
}

// wire is the on-disk/over-the-wire shape of a room snapshot.
type wire struct {
	RoomID      string
	ClockNodes  []string
	ClockVals   []uint64
	Members     []string
	SensorIDs   []string
	Presence    []string
	Fields      []fieldEntry
	Annotations []annotationEntry
}

func fromState(s room.State) wire {
	w := wire{
		RoomID:    s.RoomID,
		Members:   append([]string(nil), s.Members...),
		SensorIDs: append([]string(nil), s.SensorIDs...),
		Presence:  append([]string(nil), s.Presence...),
	}
	// sorted so that equal states encode to identical bytes (same hash).
	sort.Strings(w.Members)
	sort.Strings(w.SensorIDs)
	sort.Strings(w.Presence)
	for node := range s.Clock {
		w.ClockNodes = append(w.ClockNodes, node)
	}
	sort.Strings(w.ClockNodes)
	for _, node := range w.ClockNodes {
		w.ClockVals = append(w.ClockVals, s.Clock[node])
	}
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, _ := json.Marshal(s.Fields[name])
		w.Fields = append(w.Fields, fieldEntry{Name: name, JSON: string(b)})
	}
	for _, a := range s.Annotations {
		b, _ := json.Marshal(a.Body)
		w.Annotations = append(w.Annotations, annotationEntry{
			ID: a.ID, Author: a.Author, AtNanos: a.Timestamp.UnixNano(), JSON: string(b),
		})
	}
	return w
}

// MarshalMsg implements msgp.Marshaler by hand: a top-level map of named
// fields, each a string array or array-of-arrays.
func (w *wire) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 8)

	o = msgp.AppendString(o, "RoomID")
	o = msgp.AppendString(o, w.RoomID)

	o = msgp.AppendString(o, "ClockNodes")
	o = msgp.AppendArrayHeader(o, uint32(len(w.ClockNodes)))
	for _, n := range w.ClockNodes {
		o = msgp.AppendString(o, n)
	}

	o = msgp.AppendString(o, "ClockVals")
	o = msgp.AppendArrayHeader(o, uint32(len(w.ClockVals)))
	for _, v := range w.ClockVals {
		o = msgp.AppendUint64(o, v)
	}

	o = msgp.AppendString(o, "Members")
	o = msgp.AppendArrayHeader(o, uint32(len(w.Members)))
	for _, m := range w.Members {
		o = msgp.AppendString(o, m)
	}

	o = msgp.AppendString(o, "SensorIDs")
	o = msgp.AppendArrayHeader(o, uint32(len(w.SensorIDs)))
	for _, s := range w.SensorIDs {
		o = msgp.AppendString(o, s)
	}

	o = msgp.AppendString(o, "Presence")
	o = msgp.AppendArrayHeader(o, uint32(len(w.Presence)))
	for _, p := range w.Presence {
		o = msgp.AppendString(o, p)
	}

	o = msgp.AppendString(o, "Fields")
	o = msgp.AppendArrayHeader(o, uint32(len(w.Fields)*2))
	for _, f := range w.Fields {
		o = msgp.AppendString(o, f.Name)
		o = msgp.AppendString(o, f.JSON)
	}

	o = msgp.AppendString(o, "Annotations")
	o = msgp.AppendArrayHeader(o, uint32(len(w.Annotations)*4))
	for _, a := range w.Annotations {
		o = msgp.AppendString(o, a.ID)
		o = msgp.AppendString(o, a.Author)
		o = msgp.AppendInt64(o, a.AtNanos)
		o = msgp.AppendString(o, a.JSON)
	}

	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler, reading back the exact shape
// MarshalMsg writes.
func (w *wire) UnmarshalMsg(bts []byte) ([]byte, error) {
	var (
		sz  uint32
		err error
	)
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch key {
		case "RoomID":
			w.RoomID, bts, err = msgp.ReadStringBytes(bts)
		case "ClockNodes":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			w.ClockNodes = make([]string, n)
			for j := uint32(0); j < n; j++ {
				w.ClockNodes[j], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
			}
		case "ClockVals":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			w.ClockVals = make([]uint64, n)
			for j := uint32(0); j < n; j++ {
				w.ClockVals[j], bts, err = msgp.ReadUint64Bytes(bts)
				if err != nil {
					return bts, err
				}
			}
		case "Members":
			w.Members, bts, err = readStringSlice(bts)
		case "SensorIDs":
			w.SensorIDs, bts, err = readStringSlice(bts)
		case "Presence":
			w.Presence, bts, err = readStringSlice(bts)
		case "Fields":
			var flat []string
			flat, bts, err = readStringSlice(bts)
			if err != nil {
				return bts, err
			}
			w.Fields = w.Fields[:0]
			for j := 0; j+1 < len(flat); j += 2 {
				w.Fields = append(w.Fields, fieldEntry{Name: flat[j], JSON: flat[j+1]})
			}
		case "Annotations":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			w.Annotations = w.Annotations[:0]
			for j := uint32(0); j < n; j += 4 {
				var a annotationEntry
				a.ID, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
				a.Author, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
				a.AtNanos, bts, err = msgp.ReadInt64Bytes(bts)
				if err != nil {
					return bts, err
				}
				a.JSON, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
				w.Annotations = append(w.Annotations, a)
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func readStringSlice(bts []byte) ([]string, []byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	out := make([]string, n)
	for i := uint32(0); i < n; i++ {
		out[i], bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return out, bts, err
		}
	}
	return out, bts, nil
}

func (w *wire) toState() room.State {
	s := room.State{
		RoomID:    w.RoomID,
		Members:   w.Members,
		SensorIDs: w.SensorIDs,
		Presence:  w.Presence,
		Clock:     make(room.VectorClock, len(w.ClockNodes)),
		Fields:    make(map[string]any, len(w.Fields)),
	}
	for i, n := range w.ClockNodes {
		if i < len(w.ClockVals) {
			s.Clock[n] = w.ClockVals[i]
		}
	}
	for _, f := range w.Fields {
		var v any
		_ = json.Unmarshal([]byte(f.JSON), &v)
		s.Fields[f.Name] = v
	}
	for _, a := range w.Annotations {
		var body any
		_ = json.Unmarshal([]byte(a.JSON), &body)
		s.Annotations = append(s.Annotations, room.Annotation{
			ID: a.ID, Author: a.Author, Timestamp: unixNano(a.AtNanos), Body: body,
		})
	}
	return s
}

// Blob is a content-addressed, lz4-compressed msgpack encoding of a room
// snapshot, ready to hand to an object store.
type Blob struct {
	Hash [32]byte
	Data []byte
}

// Encode serializes, compresses, and hashes a room state.
func Encode(s room.State) (Blob, error) {
	w := fromState(s)
	packed, err := w.MarshalMsg(nil)
	if err != nil {
		return Blob{}, err
	}
	compressed := compress(packed)
	hash := blake2b.Sum256(compressed)
	return Blob{Hash: hash, Data: compressed}, nil
}

// Decode reverses Encode.
func Decode(data []byte) (room.State, error) {
	packed, err := decompress(data)
	if err != nil {
		return room.State{}, err
	}
	var w wire
	if _, err := w.UnmarshalMsg(packed); err != nil {
		return room.State{}, err
	}
	return w.toState(), nil
}

func compress(src []byte) []byte {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var table [1 << 16]int
	n, err := lz4.CompressBlock(src, dst, table[:])
	if err != nil || n == 0 {
		// incompressible or too small for lz4's block format: store raw,
		// flagged by a zero length-prefix below.
		return append([]byte{0, 0, 0, 0}, src...)
	}
	out := make([]byte, 4+n)
	putUint32(out, uint32(len(src)))
	copy(out[4:], dst[:n])
	return out
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, msgp.ErrShortBytes
	}
	origLen := getUint32(data)
	if origLen == 0 {
		return data[4:], nil
	}
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(data[4:], dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
