// Package circadian implements the system-wide phase scheduler (§4.10):
// every 10 minutes, compare current/next-hour predicted load
// against a learned 24-entry hourly profile and emit a phase adjustment.
package circadian

import (
	"context"
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/pubsub"
)

type Phase string

const (
	PhaseApproachingPeak    Phase = "approaching_peak"
	PhasePeak               Phase = "peak"
	PhaseApproachingOffPeak Phase = "approaching_off_peak"
	PhaseOffPeak            Phase = "off_peak"
	PhaseNormal             Phase = "normal"
)

func adjustmentFor(p Phase) float64 {
	switch p {
	case PhaseApproachingPeak:
		return 1.15
	case PhasePeak:
		return 1.2
	case PhaseApproachingOffPeak:
		return 0.9
	case PhaseOffPeak:
		return 0.85
	default:
		return 1.0
	}
}

// LoadHistoryProvider supplies the learned 24-entry hourly load profile
// (implemented by internal/load via a per-hour-of-day running mean of
// every Monitor sample since start).
type LoadHistoryProvider interface {
	HourlyProfile() [24]float64
}

// PhaseChange is published on system:circadian.
type PhaseChange struct {
	Phase      Phase
	Adjustment float64
	At         time.Time
}

type Scheduler struct {
	bus     *pubsub.Bus
	history LoadHistoryProvider
	period  time.Duration

	mu      sync.RWMutex
	current PhaseChange
}

func New(bus *pubsub.Bus, history LoadHistoryProvider, period time.Duration) *Scheduler {
	if period <= 0 {
		period = 10 * time.Minute
	}
	return &Scheduler{bus: bus, history: history, period: period, current: PhaseChange{Phase: PhaseNormal, Adjustment: 1.0}}
}

func (s *Scheduler) evaluateOnce(now time.Time) {
	if s.history == nil {
		return
	}
	profile := s.history.HourlyProfile()
	cur := profile[now.Hour()]
	next := profile[(now.Hour()+1)%24]

	var phase Phase
	switch {
	case next > 0.7:
		phase = PhaseApproachingPeak
	case cur > 0.7:
		phase = PhasePeak
	case next < 0.3:
		phase = PhaseApproachingOffPeak
	case cur < 0.3:
		phase = PhaseOffPeak
	default:
		phase = PhaseNormal
	}

	change := PhaseChange{Phase: phase, Adjustment: adjustmentFor(phase), At: now}
	s.mu.Lock()
	changed := s.current.Phase != phase
	s.current = change
	s.mu.Unlock()

	if changed && s.bus != nil {
		s.bus.Publish(pubsub.SystemCircadian(), change)
	}
}

// Factor implements attention.CircadianFactorProvider.
func (s *Scheduler) Factor() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Adjustment
}

func (s *Scheduler) Key() string { return "circadian-scheduler" }

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.evaluateOnce(time.Now())
		}
	}
}

func (s *Scheduler) Shutdown(ctx context.Context) error { return nil }
