// Package homeostat implements the homeostatic threshold tuner (§4.8):
// nudge the load monitor's thresholds so the observed load-level
// distribution tracks a target (normal 70% / elevated 20% / high 8% /
// critical 2%).
package homeostat

import (
	"context"
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/pubsub"
)

const (
	step     = 0.005
	maxAbs   = 0.1
	ringSize = 3600 // one sample per second, per §4.8
)

var target = struct{ normal, elevated, high, critical float64 }{0.70, 0.20, 0.08, 0.02}

// Adjustment is published on system:homeostasis each adaptation cycle.
type Adjustment struct {
	ElevatedOffset float64
	HighOffset     float64
	CriticalOffset float64
	At             time.Time
}

// Tuner is fed one sample/sec via Sample and exposes the current offsets
// via Offsets (implementing load.ThresholdOffsetProvider).
type Tuner struct {
	bus    *pubsub.Bus
	period time.Duration

	mu      sync.Mutex
	ring    [ringSize]string
	ringLen int
	ringPos int

	elevatedOffset, highOffset, criticalOffset float64
}

func New(bus *pubsub.Bus, period time.Duration) *Tuner {
	if period <= 0 {
		period = time.Hour
	}
	return &Tuner{bus: bus, period: period}
}

// Sample records one load sample (implements load.HomeostasisSink).
func (t *Tuner) Sample(pressure float64, level string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.ringPos] = level
	t.ringPos = (t.ringPos + 1) % ringSize
	if t.ringLen < ringSize {
		t.ringLen++
	}
}

// Offsets implements load.ThresholdOffsetProvider.
func (t *Tuner) Offsets() (elevated, high, critical float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elevatedOffset, t.highOffset, t.criticalOffset
}

func (t *Tuner) adaptOnce(now time.Time) Adjustment {
	t.mu.Lock()
	var normal, elevated, high, critical int
	for i := 0; i < t.ringLen; i++ {
		switch t.ring[i] {
		case "normal":
			normal++
		case "elevated":
			elevated++
		case "high":
			high++
		case "critical":
			critical++
		}
	}
	n := t.ringLen
	t.mu.Unlock()

	if n == 0 {
		t.mu.Lock()
		adj := Adjustment{ElevatedOffset: t.elevatedOffset, HighOffset: t.highOffset, CriticalOffset: t.criticalOffset, At: now}
		t.mu.Unlock()
		return adj
	}

	obsElevatedPlus := float64(elevated+high+critical) / float64(n)
	obsHighPlus := float64(high+critical) / float64(n)
	obsCritical := float64(critical) / float64(n)

	targetElevatedPlus := target.elevated + target.high + target.critical
	targetHighPlus := target.high + target.critical
	targetCritical := target.critical

	t.mu.Lock()
	t.elevatedOffset = nudge(t.elevatedOffset, obsElevatedPlus, targetElevatedPlus)
	t.highOffset = nudge(t.highOffset, obsHighPlus, targetHighPlus)
	t.criticalOffset = nudge(t.criticalOffset, obsCritical, targetCritical)
	adj := Adjustment{ElevatedOffset: t.elevatedOffset, HighOffset: t.highOffset, CriticalOffset: t.criticalOffset, At: now}
	t.mu.Unlock()
	return adj
}

func nudge(offset, observed, target float64) float64 {
	switch {
	case observed > target:
		offset += step
	case observed < target:
		offset -= step
	}
	if offset > maxAbs {
		offset = maxAbs
	}
	if offset < -maxAbs {
		offset = -maxAbs
	}
	return offset
}

func (t *Tuner) Key() string { return "homeostatic-tuner" }

func (t *Tuner) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			adj := t.adaptOnce(time.Now())
			if t.bus != nil {
				t.bus.Publish(pubsub.SystemHomeostasis(), adj)
			}
		}
	}
}

func (t *Tuner) Shutdown(ctx context.Context) error { return nil }
