// Package connector is the wire protocol between a sensor/viewer client
// and a node: client→server join/measurement/measurements_batch/
// request_seed_data, server→client seed_data/measurement/
// measurements_batch/backpressure_config/clear_attribute. Message bodies
// are JSON via json-iterator.
//
// The actual socket transport (WebSocket handshake/framing, HTTP
// upgrade) is an external collaborator, out of scope for this package:
// Session (session.go) decodes/encodes envelopes and bridges them into
// the sensor pipeline over any FrameTransport a caller supplies.
package connector

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind discriminates the envelope's Payload.
type Kind string

const (
	// client -> server
	KindJoin              Kind = "join"
	KindMeasurement       Kind = "measurement"
	KindMeasurementsBatch Kind = "measurements_batch"
	KindRequestSeedData   Kind = "request_seed_data"

	// server -> client
	KindSeedData           Kind = "seed_data"
	KindBackpressureConfig Kind = "backpressure_config"
	KindClearAttribute     Kind = "clear_attribute"
)

// Envelope is the outer frame every message rides in; Payload is
// re-decoded by the handler once Kind tells it the concrete type.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// Join is the first message a client sends after connecting, naming the
// sensor it's acting as (or the room it's observing as a viewer).
type Join struct {
	SensorID string `json:"sensor_id,omitempty"`
	RoomID   string `json:"room_id,omitempty"`
	Role     string `json:"role"` // "sensor" | "viewer"
}

// Measurement is one client->server reading.
type Measurement struct {
	SensorID  string    `json:"sensor_id"`
	AttrID    string    `json:"attr_id"`
	AttrType  string    `json:"attr_type"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MeasurementsBatch carries several readings in one frame, the wire form
// the sensor pipeline's IngestBatch expects for bulk catch-up.
type MeasurementsBatch struct {
	Measurements []Measurement `json:"measurements"`
}

// RequestSeedData asks the server to replay the current window for a
// sensor attribute right after join, before live measurements resume
// streaming. From/To/Limit are optional (zero value means unbounded).
type RequestSeedData struct {
	SensorID string `json:"sensor_id"`
	AttrID   string `json:"attribute_id"`
	From     uint64 `json:"from,omitempty"`
	To       uint64 `json:"to,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SeedData answers RequestSeedData with the attribute windows as of now.
type SeedData struct {
	SensorID     string                   `json:"sensor_id"`
	Measurements map[string][]Measurement `json:"measurements"`
}

// BackpressureConfig is pushed whenever a sensor's batch window changes
// (§4.3's "push, don't poll" contract); the client should honor
// BatchMS as its own send cadence until the next push.
type BackpressureConfig struct {
	SensorID string `json:"sensor_id"`
	AttrID   string `json:"attr_id"`
	BatchMS  int    `json:"batch_ms"`
	Level    string `json:"level"`
}

// ClearAttribute tells the client to drop any buffered state for an
// attribute (sensor went offline, or an attribute was retired upstream).
type ClearAttribute struct {
	SensorID string `json:"sensor_id"`
	AttrID   string `json:"attr_id"`
}

// Encode wraps payload in an Envelope and marshals it.
func Encode(kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: body})
}

// Decode unmarshals the outer Envelope; callers then decode Payload into
// the concrete type matching Kind.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	err := json.Unmarshal(env.Payload, &out)
	return out, err
}
