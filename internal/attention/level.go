package attention

import "time"

// Level is the derived attention-intensity enum from §3.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
	LevelNone   Level = "none"
)

// rank gives levels a total order so max() and the battery-cap comparisons
// are simple integer comparisons (higher rank = more attention).
func (l Level) rank() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

func maxLevel(a, b Level) Level {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

func minLevel(a, b Level) Level {
	if a.rank() <= b.rank() {
		return a
	}
	return b
}

// BatteryLevel is the tri-state cap input itself (§3 BatteryState.state).
type BatteryLevel string

const (
	BatteryNormal   BatteryLevel = "normal"
	BatteryLow      BatteryLevel = "low"
	BatteryCritical BatteryLevel = "critical"
)

// BatteryState is the full per-user battery record from §3: the reported
// state plus its provenance (source, level_percent, charging, reported_at).
// Only State feeds the attention cap; the rest is carried for reporting
// and future diagnostics.
type BatteryState struct {
	State        BatteryLevel
	Source       string
	LevelPercent *float64
	Charging     *bool
	ReportedAt   time.Time
}

func (b BatteryState) restrictiveness() int {
	switch b.State {
	case BatteryCritical:
		return 2
	case BatteryLow:
		return 1
	default:
		return 0
	}
}

// cap returns the level ceiling imposed by a battery state: low caps at
// medium, critical caps at low.
func (b BatteryState) cap() Level {
	switch b.State {
	case BatteryCritical:
		return LevelLow
	case BatteryLow:
		return LevelMedium
	default:
		return LevelHigh // no cap
	}
}

func worstBattery(a, b BatteryState) BatteryState {
	if a.restrictiveness() >= b.restrictiveness() {
		return a
	}
	return b
}
