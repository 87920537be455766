// Package sensor implements the ingestion pipeline: per-sensor supervised
// workers that validate, window, fan out, and push back-pressure config
// to connectors. A worker implements actor.Worker so the fabric
// (internal/actor) can spawn/supervise/restart it uninvolved in the
// domain logic here, the same separation a renewable lifecycle and its
// factory draw elsewhere in the tree.
package sensor

import (
	"context"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/telemetry"
)

// Attribute is a declared logical stream within a sensor (§3).
type Attribute struct {
	ID   string
	Type string // semantic type tag, immutable for the sensor's life
}

// Status is the sensor's connection status.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
)

// BatchWindowCalculator is implemented by internal/attention.Registry.
// Kept as an interface here so the sensor package never imports attention
// directly (attention is built one layer above sensor in the dependency
// order from §2).
type BatchWindowCalculator interface {
	CalculateBatchWindow(baseMS int, sensorID, attrID string) int
	GetAttentionLevel(sensorID, attrID string) string
}

// NoveltyReporter is implemented by internal/bio/novelty.Detector.
type NoveltyReporter interface {
	Report(sensorID, attrID string, value float64, at time.Time)
	Boosted(sensorID, attrID string) bool
}

// Connector is the narrow outbound channel a worker pushes control
// messages through — the external WebSocket/JSON framing (§6) is out of
// scope; this interface is the seam a transport adapter implements.
type Connector interface {
	SendBackpressureConfig(sensorID string, cfg BackpressureConfig) error
}

// BackpressureConfig is the advisory directive from §4.3.
type BackpressureConfig struct {
	Type                     string `json:"type"`
	AttentionLevel           string `json:"attention_level"`
	RecommendedBatchWindowMS int    `json:"recommended_batch_window_ms"`
	RecommendedBatchSize     int    `json:"recommended_batch_size"`
	TimestampMS              int64  `json:"timestamp_ms"`
}

// batchSizeForWindow derives a recommended batch size from the window in
// ms: tighter windows batch fewer samples, so batch_size and batch_window
// rise and fall together.
func batchSizeForWindow(windowMS int) int {
	switch {
	case windowMS <= 500:
		return 1
	case windowMS <= 2000:
		return 4
	case windowMS <= 10_000:
		return 16
	default:
		return 32
	}
}

// Config configures a single sensor worker at spawn time.
type Config struct {
	SensorID       string
	Owner          string
	Attributes     []Attribute
	DefaultWindow  int
	WindowByType   map[string]int
	LateTolerance  time.Duration
	OfflineGrace   time.Duration
	BaseBatchMS    int
}

// Worker owns one sensor's AttributeWindows exclusively (§3 "A sensor's
// worker exclusively owns its AttributeWindows"). All mutation happens on
// the goroutine running Run; Seed/GetLatest copy out through a mutex so
// external callers never alias the live buffers.
type Worker struct {
	cfg    Config
	bus    *pubsub.Bus
	calc   BatchWindowCalculator
	novel  NoveltyReporter
	connector Connector

	mu         sync.Mutex
	status     Status
	windows    map[string]*AttributeWindow
	lastWindow map[string]int // last pushed recommended_batch_window_ms, per attribute
	lastLevel  map[string]string
	lastSeen   time.Time

	dedup *cuckoo.Filter // at-most-once replay guard across reconnects

	inbox    chan ingestRequest
	shutdown chan struct{}
}

type ingestRequest struct {
	measurements []Measurement
	reply        chan []error
}

// NewWorker constructs a worker; call through actor.Registry.Spawn so it
// is supervised, not directly.
func NewWorker(cfg Config, bus *pubsub.Bus, calc BatchWindowCalculator, novel NoveltyReporter, conn Connector) *Worker {
	if cfg.BaseBatchMS <= 0 {
		cfg.BaseBatchMS = 1000
	}
	w := &Worker{
		cfg:        cfg,
		bus:        bus,
		calc:       calc,
		novel:      novel,
		connector:  conn,
		status:     StatusOnline,
		windows:    make(map[string]*AttributeWindow),
		lastWindow: make(map[string]int),
		lastLevel:  make(map[string]string),
		dedup:      cuckoo.NewFilter(1 << 16),
		inbox:      make(chan ingestRequest, 256),
		shutdown:   make(chan struct{}),
		lastSeen:   time.Now(),
	}
	for _, a := range cfg.Attributes {
		w.windows[a.ID] = NewAttributeWindow(w.windowSizeFor(a.Type))
	}
	return w
}

func (w *Worker) windowSizeFor(attrType string) int {
	if n, ok := w.cfg.WindowByType[attrType]; ok && n > 0 {
		return n
	}
	if w.cfg.DefaultWindow > 0 {
		return w.cfg.DefaultWindow
	}
	return 10_000
}

func (w *Worker) Key() string { return w.cfg.SensorID }

// Run is the actor.Worker entrypoint: drains the inbox until ctx is
// cancelled, declaring the sensor offline after OfflineGrace of silence.
func (w *Worker) Run(ctx context.Context) error {
	grace := w.cfg.OfflineGrace
	if grace <= 0 {
		grace = 60 * time.Second
	}
	ticker := time.NewTicker(grace / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.shutdown:
			return nil
		case req := <-w.inbox:
			errs := make([]error, len(req.measurements))
			for i, m := range req.measurements {
				errs[i] = w.ingestOne(m)
			}
			if req.reply != nil {
				req.reply <- errs
			}
		case <-ticker.C:
			w.mu.Lock()
			idle := time.Since(w.lastSeen) > grace
			if idle && w.status == StatusOnline {
				w.status = StatusOffline
				nlog.Warnf("sensor %s: offline after %s idle", w.cfg.SensorID, grace)
			}
			w.mu.Unlock()
		}
	}
}

// Shutdown gracefully stops accepting new work.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	return nil
}

// Ingest validates and inserts a single measurement, per §4.3.
func (w *Worker) Ingest(m Measurement) error {
	reply := make(chan []error, 1)
	w.inbox <- ingestRequest{measurements: []Measurement{m}, reply: reply}
	errs := <-reply
	return errs[0]
}

// IngestBatch validates/inserts each measurement independently: one
// failure rejects only the offending element (§4.3).
func (w *Worker) IngestBatch(ms []Measurement) []error {
	reply := make(chan []error, 1)
	w.inbox <- ingestRequest{measurements: ms, reply: reply}
	return <-reply
}

func (w *Worker) attrType(attrID string) string {
	for _, a := range w.cfg.Attributes {
		if a.ID == attrID {
			return a.Type
		}
	}
	return ""
}

func (w *Worker) ingestOne(m Measurement) error {
	if err := m.Payload.Validate(); err != nil {
		telemetry.InvalidPayloadTotal.WithLabelValues(w.cfg.SensorID, m.AttributeID, "validate").Inc()
		return err
	}

	now := time.Now()
	nowMS := uint64(now.UnixMilli())
	lateTol := OutOfOrderTolerance(w.attrType(m.AttributeID), w.cfg.LateTolerance)
	earlyBoundMS := uint64(now.Add(EarlyTolerance).UnixMilli())
	lateBoundMS := uint64(0)
	if nowMS > uint64(lateTol.Milliseconds()) {
		lateBoundMS = nowMS - uint64(lateTol.Milliseconds())
	}
	if m.TimestampMS > earlyBoundMS || m.TimestampMS < lateBoundMS {
		telemetry.InvalidPayloadTotal.WithLabelValues(w.cfg.SensorID, m.AttributeID, "out_of_tolerance").Inc()
		return errInvalidTimestamp(m.TimestampMS, lateBoundMS, earlyBoundMS)
	}

	dedupKey := []byte(m.AttributeID + ":" + itoa(m.TimestampMS))
	w.mu.Lock()
	if w.dedup.Lookup(dedupKey) {
		w.mu.Unlock()
		return nil // at-most-once: silently absorb the replay
	}
	w.dedup.InsertUnique(dedupKey)

	win, ok := w.windows[m.AttributeID]
	if !ok {
		win = NewAttributeWindow(w.windowSizeFor(w.attrType(m.AttributeID)))
		w.windows[m.AttributeID] = win
	}
	win.Insert(m)
	w.status = StatusOnline
	w.lastSeen = now
	w.mu.Unlock()

	w.bus.Publish(pubsub.SensorData(w.cfg.SensorID), m)

	if w.novel != nil {
		if v, ok := m.Payload.Numeric(); ok {
			w.novel.Report(w.cfg.SensorID, m.AttributeID, v, now)
		}
	}

	w.maybePushBackpressure(m.AttributeID, now)
	return nil
}

// maybePushBackpressure recomputes the batch window for attrID and, if it
// moved by >=10% or the attention level changed, pushes a
// backpressure_config message (§4.3).
func (w *Worker) maybePushBackpressure(attrID string, now time.Time) {
	if w.calc == nil || w.connector == nil {
		return
	}
	level := w.calc.GetAttentionLevel(w.cfg.SensorID, attrID)
	if w.novel != nil && w.novel.Boosted(w.cfg.SensorID, attrID) {
		level = "high"
	}
	windowMS := w.calc.CalculateBatchWindow(w.cfg.BaseBatchMS, w.cfg.SensorID, attrID)

	w.mu.Lock()
	prevWindow, hadPrev := w.lastWindow[attrID]
	prevLevel := w.lastLevel[attrID]
	changed := !hadPrev || level != prevLevel || percentDelta(prevWindow, windowMS) >= 0.10
	if changed {
		w.lastWindow[attrID] = windowMS
		w.lastLevel[attrID] = level
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	cfg := BackpressureConfig{
		Type:                     "backpressure_config",
		AttentionLevel:           level,
		RecommendedBatchWindowMS: windowMS,
		RecommendedBatchSize:     batchSizeForWindow(windowMS),
		TimestampMS:              now.UnixMilli(),
	}
	if err := w.connector.SendBackpressureConfig(w.cfg.SensorID, cfg); err != nil {
		nlog.Warnf("sensor %s: push backpressure_config: %v", w.cfg.SensorID, err)
	}
}

func percentDelta(prev, cur int) float64 {
	if prev == 0 {
		return 1
	}
	d := float64(cur-prev) / float64(prev)
	if d < 0 {
		d = -d
	}
	return d
}

// Seed returns the sub-window for a newly connected observer (§4.3). The
// window is read under w.mu since ingestOne holds the same lock across
// win.Insert's append/copy on the live backing slice.
func (w *Worker) Seed(attrID string, from, to uint64, limit int) []Measurement {
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.windows[attrID]
	if !ok {
		return nil
	}
	return win.Seed(from, to, limit)
}

// GetLatest returns the most recent measurement for attrID, if any.
func (w *Worker) GetLatest(attrID string) (Measurement, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.windows[attrID]
	if !ok {
		return Measurement{}, false
	}
	return win.Latest()
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
