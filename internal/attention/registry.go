// Package attention implements the attention registry from §4.4: per-
// observer intents aggregated per (sensor_id, attribute_id), a battery
// cap, and the batch-window formula every sensor worker reads on each
// publish.
//
// The cached read path is backed by tidwall/buntdb: its Update/View
// transaction split is exactly the "many-reader, single-writer, readers
// never block" contract §4.4/§5 call for, so we lean on buntdb's own
// locking instead of re-deriving it.
package attention

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/adiibanez/sensocto/internal/cmn/config"
	"github.com/adiibanez/sensocto/internal/pubsub"
)

// LoadMultiplierProvider is implemented by internal/load.Monitor.
type LoadMultiplierProvider interface{ Multiplier() float64 }

// NoveltyFactorProvider is implemented by internal/bio/novelty.Detector.
type NoveltyFactorProvider interface {
	Factor(sensorID, attrID string) float64
}

// PredictiveFactorProvider is implemented by internal/bio/predictive.Learner.
type PredictiveFactorProvider interface{ Factor(sensorID string) float64 }

// CompetitiveFactorProvider is implemented by internal/bio/arbiter.Arbiter.
type CompetitiveFactorProvider interface{ Factor(sensorID string) float64 }

// CircadianFactorProvider is implemented by internal/bio/circadian.Scheduler.
type CircadianFactorProvider interface{ Factor() float64 }

type attrState struct {
	viewers     map[string]struct{}
	hovered     map[string]struct{}
	hoverExpiry map[string]time.Time
	focused     map[string]struct{}
	lastUpdated time.Time
}

func newAttrState() *attrState {
	return &attrState{
		viewers:     make(map[string]struct{}),
		hovered:     make(map[string]struct{}),
		hoverExpiry: make(map[string]time.Time),
		focused:     make(map[string]struct{}),
	}
}

func (s *attrState) empty() bool {
	return len(s.viewers) == 0 && len(s.hovered) == 0 && len(s.focused) == 0
}

func (s *attrState) observers() map[string]struct{} {
	out := make(map[string]struct{})
	for u := range s.viewers {
		out[u] = struct{}{}
	}
	for u := range s.hovered {
		out[u] = struct{}{}
	}
	for u := range s.focused {
		out[u] = struct{}{}
	}
	return out
}

func (s *attrState) rawLevel(staleAfter time.Duration) Level {
	if len(s.focused) > 0 || len(s.hovered) > 0 {
		return LevelHigh
	}
	if len(s.viewers) > 0 {
		return LevelMedium
	}
	if s.lastUpdated.IsZero() || time.Since(s.lastUpdated) > staleAfter {
		return LevelNone
	}
	return LevelLow
}

type attrKey struct{ sensorID, attrID string }

// Registry is the single coordinator for attention state: all writes route
// through one goroutine (register/command); reads hit the buntdb cache
// directly and never block on it.
type Registry struct {
	bus *pubsub.Bus

	cmds chan func()

	mu      sync.Mutex // guards the maps below; only touched by the coordinator goroutine
	states  map[attrKey]*attrState
	pins    map[string]map[string]struct{} // sensor_id -> user_id set
	battery map[string]BatteryState

	cache *buntdb.DB

	staleAfter    time.Duration
	hoverBoost    time.Duration
	cleanupPeriod time.Duration

	load       LoadMultiplierProvider
	novelty    NoveltyFactorProvider
	predictive PredictiveFactorProvider
	arbiter    CompetitiveFactorProvider
	circadian  CircadianFactorProvider
}

// New builds a Registry. Providers may be nil (factor defaults to 1.0 /
// multiplier 1.0) so the package is independently testable per §2's
// dependency order (attention is built before the biomimetic layer).
func New(bus *pubsub.Bus, cfg *config.Config) (*Registry, error) {
	cache, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	r := &Registry{
		bus:           bus,
		cmds:          make(chan func(), 1024),
		states:        make(map[attrKey]*attrState),
		pins:          make(map[string]map[string]struct{}),
		battery:       make(map[string]BatteryState),
		cache:         cache,
		staleAfter:    cfg.Attention.StaleAfter,
		hoverBoost:    cfg.Attention.HoverBoost,
		cleanupPeriod: cfg.Attention.CleanupPeriod,
	}
	return r, nil
}

// SetProviders wires the bio/load factor sources once they exist (broken
// out from New to respect the leaves-first build order from §2).
func (r *Registry) SetProviders(load LoadMultiplierProvider, novelty NoveltyFactorProvider,
	predictive PredictiveFactorProvider, arbiter CompetitiveFactorProvider, circadian CircadianFactorProvider) {
	r.load = load
	r.novelty = novelty
	r.predictive = predictive
	r.arbiter = arbiter
	r.circadian = circadian
}

// Run is the coordinator goroutine (implements a simple actor.Worker-
// compatible loop): drains commands and runs the periodic cleanup tick.
func (r *Registry) Run(ctx context.Context) error {
	period := r.cleanupPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-r.cmds:
			fn()
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *Registry) Key() string { return "attention-coordinator" }
func (r *Registry) Shutdown(ctx context.Context) error { return nil }

// enqueue routes a write through the single coordinator and waits for it
// to apply ("return immediately" means the caller doesn't wait on I/O,
// not that it's fire-and-forget — we still want read-your-write
// consistency for the synchronous test suite).
func (r *Registry) enqueue(fn func()) {
	done := make(chan struct{})
	r.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

func (r *Registry) stateFor(sensorID, attrID string) *attrState {
	k := attrKey{sensorID, attrID}
	s, ok := r.states[k]
	if !ok {
		s = newAttrState()
		r.states[k] = s
	}
	return s
}

func (r *Registry) RegisterView(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		s.viewers[userID] = struct{}{}
		s.lastUpdated = time.Now()
		r.recompute(sensorID, attrID)
	})
}

func (r *Registry) UnregisterView(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		delete(s.viewers, userID)
		s.lastUpdated = time.Now()
		r.recompute(sensorID, attrID)
	})
}

func (r *Registry) RegisterHover(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		s.hovered[userID] = struct{}{}
		delete(s.hoverExpiry, userID)
		s.lastUpdated = time.Now()
		r.recompute(sensorID, attrID)
	})
}

// UnregisterHover starts the 2s boost: the user stays in the hovered set
// until the boost expires (§4.4 / glossary "hover boost").
func (r *Registry) UnregisterHover(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		if _, still := s.hovered[userID]; !still {
			return
		}
		expiry := time.Now().Add(r.hoverBoost)
		s.hoverExpiry[userID] = expiry
		time.AfterFunc(r.hoverBoost, func() {
			r.enqueue(func() {
				st := r.stateFor(sensorID, attrID)
				if exp, ok := st.hoverExpiry[userID]; ok && !time.Now().Before(exp) {
					delete(st.hovered, userID)
					delete(st.hoverExpiry, userID)
					st.lastUpdated = time.Now()
					r.recompute(sensorID, attrID)
				}
			})
		})
	})
}

func (r *Registry) RegisterFocus(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		s.focused[userID] = struct{}{}
		s.lastUpdated = time.Now()
		r.recompute(sensorID, attrID)
	})
}

func (r *Registry) UnregisterFocus(sensorID, attrID, userID string) {
	r.enqueue(func() {
		s := r.stateFor(sensorID, attrID)
		delete(s.focused, userID)
		s.lastUpdated = time.Now()
		r.recompute(sensorID, attrID)
	})
}

func (r *Registry) PinSensor(sensorID, userID string) {
	r.enqueue(func() {
		if r.pins[sensorID] == nil {
			r.pins[sensorID] = make(map[string]struct{})
		}
		r.pins[sensorID][userID] = struct{}{}
		r.recomputeSensor(sensorID)
	})
}

func (r *Registry) UnpinSensor(sensorID, userID string) {
	r.enqueue(func() {
		delete(r.pins[sensorID], userID)
		r.recomputeSensor(sensorID)
	})
}

// ReportBatteryState implements report_battery_state(user_id, state,
// {source, level?, charging?}) from §4.4: source names the reporting
// client surface, level/charging are optional telemetry that ride along
// with the cap but never affect it directly (only State does).
func (r *Registry) ReportBatteryState(userID string, state BatteryLevel, source string, levelPercent *float64, charging *bool) {
	bs := BatteryState{
		State:        state,
		Source:       source,
		LevelPercent: levelPercent,
		Charging:     charging,
		ReportedAt:   time.Now(),
	}
	r.enqueue(func() {
		r.battery[userID] = bs
		// battery affects every sensor the user currently observes.
		affected := map[string]struct{}{}
		for k, s := range r.states {
			if _, isObserver := s.observers()[userID]; isObserver {
				affected[k.sensorID] = struct{}{}
			}
		}
		for sensorID := range affected {
			r.recomputeSensor(sensorID)
		}
	})
}

// UnregisterAll removes a user from every set on session end (§4.4).
func (r *Registry) UnregisterAll(userID string) {
	r.enqueue(func() {
		affected := map[string]struct{}{}
		for k, s := range r.states {
			changed := false
			if _, ok := s.viewers[userID]; ok {
				delete(s.viewers, userID)
				changed = true
			}
			if _, ok := s.hovered[userID]; ok {
				delete(s.hovered, userID)
				delete(s.hoverExpiry, userID)
				changed = true
			}
			if _, ok := s.focused[userID]; ok {
				delete(s.focused, userID)
				changed = true
			}
			if changed {
				s.lastUpdated = time.Now()
				affected[k.sensorID] = struct{}{}
				r.recomputeAttr(k.sensorID, k.attrID)
			}
		}
		for sensorID := range r.pins {
			delete(r.pins[sensorID], userID)
		}
		delete(r.battery, userID)
		for sensorID := range affected {
			r.recomputeSensor(sensorID)
		}
	})
}

func (r *Registry) bestBatteryAmongObservers(sensorID string) BatteryState {
	worst := BatteryState{State: BatteryNormal}
	for k, s := range r.states {
		if k.sensorID != sensorID {
			continue
		}
		for u := range s.observers() {
			if bs, ok := r.battery[u]; ok {
				worst = worstBattery(worst, bs)
			}
		}
	}
	for u := range r.pins[sensorID] {
		if bs, ok := r.battery[u]; ok {
			worst = worstBattery(worst, bs)
		}
	}
	return worst
}

// recompute updates both the per-attribute and sensor-level cache entries.
func (r *Registry) recompute(sensorID, attrID string) {
	r.recomputeAttr(sensorID, attrID)
	r.recomputeSensor(sensorID)
}

func (r *Registry) recomputeAttr(sensorID, attrID string) {
	s := r.stateFor(sensorID, attrID)
	raw := s.rawLevel(r.staleAfter)
	capLevel := r.bestBatteryAmongObservers(sensorID).cap()
	level := minLevel(raw, capLevel)
	if r.isPinned(sensorID) {
		level = LevelHigh
	}
	r.setCached(attrKeyName(sensorID, attrID), string(level))
	r.bus.Publish(pubsub.AttentionAttr(sensorID, attrID), LevelChange{SensorID: sensorID, AttributeID: attrID, Level: level})
}

func (r *Registry) isPinned(sensorID string) bool { return len(r.pins[sensorID]) > 0 }

func (r *Registry) recomputeSensor(sensorID string) {
	// ensure every attribute's cached level reflects current pin/battery
	// state before taking the max.
	seen := map[string]struct{}{}
	best := LevelNone
	for k := range r.states {
		if k.sensorID != sensorID {
			continue
		}
		if _, ok := seen[k.attrID]; ok {
			continue
		}
		seen[k.attrID] = struct{}{}
		r.recomputeAttr(sensorID, k.attrID)
		lvl := r.GetAttentionLevel(sensorID, k.attrID)
		best = maxLevel(best, lvl)
	}
	if r.isPinned(sensorID) {
		best = LevelHigh
	}
	r.setCached(sensorKeyName(sensorID), string(best))
	r.bus.Publish(pubsub.AttentionSensor(sensorID), LevelChange{SensorID: sensorID, Level: best})
}

func (r *Registry) cleanup() {
	r.enqueue(func() {
		now := time.Now()
		for k, s := range r.states {
			if s.empty() && !s.lastUpdated.IsZero() && now.Sub(s.lastUpdated) > r.staleAfter {
				r.setCached(attrKeyName(k.sensorID, k.attrID), string(LevelNone))
			}
		}
	})
}

func (r *Registry) setCached(key, value string) {
	_ = r.cache.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, nil)
		return err
	})
}

func (r *Registry) getCached(key string) Level {
	var val string
	_ = r.cache.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err == nil {
			val = v
		}
		return nil
	})
	if val == "" {
		return LevelNone
	}
	return Level(val)
}

func attrKeyName(sensorID, attrID string) string { return "attr:" + sensorID + ":" + attrID }
func sensorKeyName(sensorID string) string        { return "sensor:" + sensorID }

// GetAttentionLevel is the cached read path (§4.4): never blocks on the
// coordinator.
func (r *Registry) GetAttentionLevel(sensorID, attrID string) string {
	return string(r.getCached(attrKeyName(sensorID, attrID)))
}

func (r *Registry) GetSensorAttentionLevel(sensorID string) string {
	return string(r.getCached(sensorKeyName(sensorID)))
}

// AttentionScore implements arbiter.AttentionScoreProvider: the same
// encoding predictive.encode uses (high=1.0, medium=0.6, low=0.3, none=0).
func (r *Registry) AttentionScore(sensorID string) float64 {
	switch Level(r.GetSensorAttentionLevel(sensorID)) {
	case LevelHigh:
		return 1.0
	case LevelMedium:
		return 0.6
	case LevelLow:
		return 0.3
	default:
		return 0.0
	}
}

// LevelChange is published on attention:{sensor} / attention:{sensor}:{attr}.
type LevelChange struct {
	SensorID    string
	AttributeID string
	Level       Level
}

// CalculateBatchWindow implements the formula from §4.4.
func (r *Registry) CalculateBatchWindow(baseMS int, sensorID, attrID string) int {
	level := Level(r.GetAttentionLevel(sensorID, attrID))
	tuning := r.cfgTuning(level)

	w := float64(baseMS) * tuning.Multiplier
	w *= r.loadMultiplier()
	w *= r.noveltyFactor(sensorID, attrID)
	w *= r.predictiveFactor(sensorID)
	w *= r.competitiveFactor(sensorID)
	w *= r.circadianFactor()

	clamped := clamp(w, float64(tuning.MinMS), float64(tuning.MaxMS))
	return int(clamped)
}

func (r *Registry) cfgTuning(level Level) tuning {
	switch level {
	case LevelHigh:
		return tuning{0.2, 100, 500}
	case LevelMedium:
		return tuning{1.0, 500, 2000}
	case LevelLow:
		return tuning{4.0, 2000, 10_000}
	default:
		return tuning{10.0, 5000, 30_000}
	}
}

type tuning struct {
	Multiplier      float64
	MinMS, MaxMS int
}

func (r *Registry) loadMultiplier() float64 {
	if r.load == nil {
		return 1.0
	}
	return r.load.Multiplier()
}

func (r *Registry) noveltyFactor(sensorID, attrID string) float64 {
	if r.novelty == nil {
		return 1.0
	}
	f := r.novelty.Factor(sensorID, attrID)
	if f == 0 {
		return 1.0
	}
	return f
}

func (r *Registry) predictiveFactor(sensorID string) float64 {
	if r.predictive == nil {
		return 1.0
	}
	f := r.predictive.Factor(sensorID)
	if f == 0 {
		return 1.0
	}
	return f
}

func (r *Registry) competitiveFactor(sensorID string) float64 {
	if r.arbiter == nil {
		return 1.0
	}
	f := r.arbiter.Factor(sensorID)
	if f == 0 {
		return 1.0
	}
	return f
}

func (r *Registry) circadianFactor() float64 {
	if r.circadian == nil {
		return 1.0
	}
	f := r.circadian.Factor()
	if f == 0 {
		return 1.0
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
