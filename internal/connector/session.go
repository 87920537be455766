package connector

import (
	"context"
	"fmt"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/sensor"
)

// FrameTransport delivers one already-framed message per call. The socket
// layer that produces these frames (WebSocket, raw TCP, ...) is an
// external collaborator Session never constructs itself.
type FrameTransport interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
}

// SensorSpawner is the narrow slice of internal/node.Node a Session needs
// to bridge a connection into the sensor pipeline.
type SensorSpawner interface {
	SpawnSensor(ctx context.Context, sensorID, owner string, attrs []sensor.Attribute, conn sensor.Connector) (*sensor.Worker, error)
}

// Session decodes one client connection's frames into sensor pipeline
// calls (join spawns/attaches a sensor.Worker, measurement(s) call
// Ingest/IngestBatch, request_seed_data replies with seed_data), and
// implements sensor.Connector so the pipeline can push
// backpressure_config back out over the same transport.
type Session struct {
	transport FrameTransport
	spawner   SensorSpawner
	owner     string

	sensorID string
	worker   *sensor.Worker
}

// NewSession builds a Session bound to transport. owner is the account
// the spawned sensor is attributed to (catalog ownership, §4.1).
func NewSession(transport FrameTransport, spawner SensorSpawner, owner string) *Session {
	return &Session{transport: transport, spawner: spawner, owner: owner}
}

// SendBackpressureConfig implements sensor.Connector.
func (s *Session) SendBackpressureConfig(sensorID string, cfg sensor.BackpressureConfig) error {
	body, err := Encode(KindBackpressureConfig, BackpressureConfig{
		SensorID: sensorID,
		BatchMS:  cfg.RecommendedBatchWindowMS,
		Level:    cfg.AttentionLevel,
	})
	if err != nil {
		return err
	}
	return s.transport.WriteFrame(body)
}

// Serve reads frames until the transport errors or ctx is cancelled,
// dispatching each decoded envelope into the sensor pipeline.
func (s *Session) Serve(ctx context.Context) error {
	type frame struct {
		raw []byte
		err error
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// read in a goroutine so a cancelled ctx ends Serve even while the
		// transport is blocked waiting for the next frame.
		next := make(chan frame, 1)
		go func() {
			raw, err := s.transport.ReadFrame()
			next <- frame{raw, err}
		}()
		var f frame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f = <-next:
		}
		if f.err != nil {
			return f.err
		}
		if err := s.handle(ctx, f.raw); err != nil {
			nlog.Warnf("connector: session owner=%s: %v", s.owner, err)
		}
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) error {
	env, err := Decode(raw)
	if err != nil {
		return err
	}
	switch env.Kind {
	case KindJoin:
		join, err := DecodePayload[Join](env)
		if err != nil {
			return err
		}
		return s.handleJoin(ctx, join)
	case KindMeasurement:
		m, err := DecodePayload[Measurement](env)
		if err != nil {
			return err
		}
		return s.ingest(m)
	case KindMeasurementsBatch:
		batch, err := DecodePayload[MeasurementsBatch](env)
		if err != nil {
			return err
		}
		return s.ingestBatch(batch)
	case KindRequestSeedData:
		req, err := DecodePayload[RequestSeedData](env)
		if err != nil {
			return err
		}
		return s.seed(req)
	default:
		return fmt.Errorf("connector: unhandled kind %q", env.Kind)
	}
}

func (s *Session) handleJoin(ctx context.Context, j Join) error {
	if j.Role != "sensor" || j.SensorID == "" {
		// Viewer joins observe room/attention state through other seams;
		// this Session only bridges the sensor ingest path.
		return nil
	}
	w, err := s.spawner.SpawnSensor(ctx, j.SensorID, s.owner, nil, s)
	if err != nil {
		return err
	}
	s.sensorID = j.SensorID
	s.worker = w
	return nil
}

func (s *Session) ingest(m Measurement) error {
	if s.worker == nil {
		return fmt.Errorf("connector: measurement for %s before join", m.SensorID)
	}
	sm, err := toSensorMeasurement(m)
	if err != nil {
		return err
	}
	return s.worker.Ingest(sm)
}

func (s *Session) ingestBatch(batch MeasurementsBatch) error {
	if s.worker == nil {
		return fmt.Errorf("connector: measurements_batch before join")
	}
	ms := make([]sensor.Measurement, 0, len(batch.Measurements))
	for _, m := range batch.Measurements {
		sm, err := toSensorMeasurement(m)
		if err != nil {
			return err
		}
		ms = append(ms, sm)
	}
	errs := s.worker.IngestBatch(ms)
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func (s *Session) seed(req RequestSeedData) error {
	if s.worker == nil {
		return fmt.Errorf("connector: request_seed_data before join")
	}
	ms := s.worker.Seed(req.AttrID, req.From, req.To, req.Limit)
	wire := make([]Measurement, len(ms))
	for i, m := range ms {
		wire[i] = Measurement{
			SensorID: s.sensorID,
			AttrID:   req.AttrID,
			AttrType: m.Payload.Tag(),
			Value:    m.Payload,
		}
	}
	body, err := Encode(KindSeedData, SeedData{
		SensorID:     s.sensorID,
		Measurements: map[string][]Measurement{req.AttrID: wire},
	})
	if err != nil {
		return err
	}
	return s.transport.WriteFrame(body)
}

// toSensorMeasurement converts a wire Measurement into the sensor
// pipeline's typed Measurement, decoding Value into the concrete Payload
// variant named by AttrType.
func toSensorMeasurement(m Measurement) (sensor.Measurement, error) {
	payload, err := payloadFromWire(m.AttrType, m.Value)
	if err != nil {
		return sensor.Measurement{}, err
	}
	return sensor.Measurement{
		TimestampMS: uint64(m.Timestamp.UnixMilli()),
		AttributeID: m.AttrID,
		Payload:     payload,
	}, nil
}

// payloadFromWire re-marshals the generically-decoded value and
// unmarshals it into the concrete Payload struct named by attrType,
// matching §6's closed tagged union.
func payloadFromWire(attrType string, value any) (sensor.Payload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	switch attrType {
	case "ecg":
		var p sensor.ECG
		err = json.Unmarshal(raw, &p)
		return p, err
	case "heartrate":
		var p sensor.HeartRate
		err = json.Unmarshal(raw, &p)
		return p, err
	case "hrv":
		var p sensor.HRV
		err = json.Unmarshal(raw, &p)
		return p, err
	case "spo2":
		var p sensor.SpO2
		err = json.Unmarshal(raw, &p)
		return p, err
	case "accelerometer":
		var p sensor.Accelerometer
		err = json.Unmarshal(raw, &p)
		return p, err
	case "gyroscope":
		var p sensor.Gyroscope
		err = json.Unmarshal(raw, &p)
		return p, err
	case "quaternion":
		var p sensor.Quaternion
		err = json.Unmarshal(raw, &p)
		return p, err
	case "geolocation":
		var p sensor.Geolocation
		err = json.Unmarshal(raw, &p)
		return p, err
	case "temperature":
		var p sensor.Temperature
		err = json.Unmarshal(raw, &p)
		return p, err
	case "battery":
		var p sensor.Battery
		err = json.Unmarshal(raw, &p)
		return p, err
	case "button":
		var p sensor.Button
		err = json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("connector: unknown attribute type %q", attrType)
	}
}
