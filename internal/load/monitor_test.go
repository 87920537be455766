package load

import (
	"testing"
	"time"

	"github.com/adiibanez/sensocto/internal/pubsub"
)

type fakeMailbox struct{ depth int }

func (f fakeMailbox) MaxMailboxDepth() int { return f.depth }

type fakeOffsets struct{ elevated, high, critical float64 }

func (f fakeOffsets) Offsets() (float64, float64, float64) { return f.elevated, f.high, f.critical }

func TestClassifyBaseThresholds(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 0)

	cases := []struct {
		pressure float64
		want     Level
	}{
		{0.1, LevelNormal},
		{0.3, LevelElevated},
		{0.5, LevelHigh},
		{0.75, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, c := range cases {
		if got := m.classify(c.pressure); got != c.want {
			t.Fatalf("classify(%v) = %v, want %v", c.pressure, got, c.want)
		}
	}
}

func TestClassifyAppliesHomeostaticOffsets(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 0)
	m.SetProviders(nil, fakeOffsets{elevated: 0.1, high: 0.1, critical: 0.1}, nil)

	// 0.35 is elevated at baseline (>=0.3) but normal once the threshold
	// shifts to 0.4.
	if got := m.classify(0.35); got != LevelNormal {
		t.Fatalf("want normal with a +0.1 elevated offset, got %v", got)
	}
}

func TestSampleMailboxSaturatesAtHighWater(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 100)
	m.SetProviders(fakeMailbox{depth: 150}, nil, nil)

	if got := m.sampleMailbox(); got != 1.0 {
		t.Fatalf("want saturated pressure 1.0 above high-water, got %v", got)
	}
}

func TestSampleMailboxScalesBelowHighWater(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 100)
	m.SetProviders(fakeMailbox{depth: 50}, nil, nil)

	if got := m.sampleMailbox(); got != 0.5 {
		t.Fatalf("want 0.5 at half the high-water mark, got %v", got)
	}
}

func TestSampleMailboxZeroWithNoProvider(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 100)
	if got := m.sampleMailbox(); got != 0 {
		t.Fatalf("want 0 with no mailbox provider configured, got %v", got)
	}
}

func TestMultiplierForLevel(t *testing.T) {
	cases := map[Level]float64{
		LevelNormal:   1.0,
		LevelElevated: 1.5,
		LevelHigh:     3.0,
		LevelCritical: 6.0,
	}
	for level, want := range cases {
		if got := multiplierFor(level); got != want {
			t.Fatalf("multiplierFor(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestHourlyProfileAveragesPerHour(t *testing.T) {
	m := New(pubsub.New(4), time.Second, 0)
	m.hourly[5] = hourAccum{sum: 1.5, n: 3}

	profile := m.HourlyProfile()
	if got := profile[5]; got != 0.5 {
		t.Fatalf("want averaged pressure 0.5 for hour 5, got %v", got)
	}
	if profile[6] != 0 {
		t.Fatalf("want zero for an hour with no samples, got %v", profile[6])
	}
}
