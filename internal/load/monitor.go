// Package load implements the system load monitor: sample CPU/mailbox/
// memory pressure every 2s, derive a discrete level, and expose the
// load_multiplier other packages read.
//
// Memory sampling goes through golang.org/x/sys/unix (Sysinfo) and CPU
// sampling through /proc/stat deltas — a Linux-specific low-level
// sampling surface, and the one place in the tree that talks to the
// kernel directly rather than through a higher-level SDK.
package load

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/adiibanez/sensocto/internal/pubsub"
)

type Level string

const (
	LevelNormal   Level = "normal"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// thresholds/multipliers table from §4.5.
var baseThresholds = struct{ elevated, high, critical float64 }{0.3, 0.5, 0.75}

func multiplierFor(l Level) float64 {
	switch l {
	case LevelElevated:
		return 1.5
	case LevelHigh:
		return 3.0
	case LevelCritical:
		return 6.0
	default:
		return 1.0
	}
}

// MailboxDepthProvider reports the deepest worker mailbox on the node, fed
// into the pressure computation (§5 "mailbox high-water mark of
// 10000 triggers a critical-load signal").
type MailboxDepthProvider interface {
	MaxMailboxDepth() int
}

// ThresholdOffsetProvider is implemented by internal/bio/homeostat.Tuner:
// additive offsets in [-0.1,+0.1] applied to the base thresholds (§4.5/§4.8).
type ThresholdOffsetProvider interface {
	Offsets() (elevated, high, critical float64)
}

// HomeostasisSink receives every raw sample for long-run accounting
// (implemented by internal/bio/homeostat.Tuner).
type HomeostasisSink interface {
	Sample(pressure float64, level string)
}

type Sample struct {
	Level      Level
	Multiplier float64
	Pressure   float64
}

// Monitor is the single-writer owner of the current LoadSample; reads via
// Current()/LevelString()/Multiplier() never block on the sampling loop beyond a
// brief RLock.
type Monitor struct {
	bus             *pubsub.Bus
	period          time.Duration
	mailboxHighWater int

	mailbox   MailboxDepthProvider
	offsets   ThresholdOffsetProvider
	homeostat HomeostasisSink

	mu      sync.RWMutex
	current Sample

	prevCPU cpuTimes

	hourly [24]hourAccum
}

type hourAccum struct {
	sum float64
	n   int
}

func New(bus *pubsub.Bus, period time.Duration, mailboxHighWater int) *Monitor {
	if period <= 0 {
		period = 2 * time.Second
	}
	return &Monitor{
		bus:              bus,
		period:           period,
		mailboxHighWater: mailboxHighWater,
		current:          Sample{Level: LevelNormal, Multiplier: 1.0},
	}
}

func (m *Monitor) SetProviders(mailbox MailboxDepthProvider, offsets ThresholdOffsetProvider, homeostat HomeostasisSink) {
	m.mailbox = mailbox
	m.offsets = offsets
	m.homeostat = homeostat
}

func (m *Monitor) Key() string { return "load-monitor" }

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) Shutdown(ctx context.Context) error { return nil }

func (m *Monitor) sampleOnce() {
	cpuPressure := m.sampleCPU()
	memPressure := m.sampleMemory()
	mailboxPressure := m.sampleMailbox()

	pressure := 0.5*cpuPressure + 0.3*memPressure + 0.2*mailboxPressure
	pressure = clamp01(pressure)

	level := m.classify(pressure)
	if mailboxPressure >= 1.0 {
		// a mailbox at the high-water mark forces the critical level (§5).
		level = LevelCritical
	}
	mult := multiplierFor(level)

	h := time.Now().Hour()
	m.mu.Lock()
	changed := m.current.Level != level
	m.current = Sample{Level: level, Multiplier: mult, Pressure: pressure}
	m.hourly[h].sum += pressure
	m.hourly[h].n++
	m.mu.Unlock()

	if m.homeostat != nil {
		m.homeostat.Sample(pressure, string(level))
	}
	if changed {
		m.bus.Publish(pubsub.SystemLoad(), m.current)
	}
}

func (m *Monitor) classify(pressure float64) Level {
	el, hi, crit := baseThresholds.elevated, baseThresholds.high, baseThresholds.critical
	if m.offsets != nil {
		oe, oh, oc := m.offsets.Offsets()
		el, hi, crit = el+oe, hi+oh, crit+oc
	}
	switch {
	case pressure >= crit:
		return LevelCritical
	case pressure >= hi:
		return LevelHigh
	case pressure >= el:
		return LevelElevated
	default:
		return LevelNormal
	}
}

func (m *Monitor) sampleMailbox() float64 {
	if m.mailbox == nil || m.mailboxHighWater <= 0 {
		return 0
	}
	depth := m.mailbox.MaxMailboxDepth()
	if depth >= m.mailboxHighWater {
		return 1.0
	}
	return float64(depth) / float64(m.mailboxHighWater)
}

func (m *Monitor) sampleMemory() float64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	total := float64(info.Totalram) * float64(info.Unit)
	free := float64(info.Freeram) * float64(info.Unit)
	if total <= 0 {
		return 0
	}
	return clamp01((total - free) / total)
}

type cpuTimes struct {
	idle, total uint64
}

// sampleCPU reads /proc/stat deltas since the last sample. When /proc/stat
// cannot be read (e.g. non-Linux) it falls back to a NumGoroutine-derived
// proxy so the monitor degrades gracefully instead of failing the node;
// on the first successful read (no previous sample) it returns 0.
func (m *Monitor) sampleCPU() float64 {
	cur, err := readProcStatCPU()
	if err != nil {
		return goroutineProxy()
	}
	prev := m.prevCPU
	m.prevCPU = cur
	if prev.total == 0 {
		return 0
	}
	dTotal := cur.total - prev.total
	dIdle := cur.idle - prev.idle
	if dTotal == 0 {
		return 0
	}
	return clamp01(1.0 - float64(dIdle)/float64(dTotal))
}

func goroutineProxy() float64 {
	// Heuristic fallback proxy when /proc/stat is unavailable (e.g. in
	// sandboxed test environments): goroutine count relative to a soft
	// ceiling, never a substitute for real CPU accounting in production.
	n := runtime.NumGoroutine()
	return clamp01(float64(n) / 5000.0)
}

func readProcStatCPU() (cpuTimes, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuTimes{}, err
	}
	return parseProcStatCPU(data)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Current returns the last-computed sample (read-only snapshot).
func (m *Monitor) Current() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Monitor) Multiplier() float64 { return m.Current().Multiplier }
func (m *Monitor) LevelString() string { return string(m.Current().Level) }

// HourlyProfile implements circadian.LoadHistoryProvider: the learned
// mean pressure per hour-of-day, from this node's own running history.
func (m *Monitor) HourlyProfile() [24]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [24]float64
	for i, h := range m.hourly {
		if h.n > 0 {
			out[i] = h.sum / float64(h.n)
		}
	}
	return out
}
