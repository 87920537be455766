package predictive

import (
	"testing"
	"time"

	"github.com/adiibanez/sensocto/internal/attention"
)

func TestFactorDefaultsToOneForUnknownSensor(t *testing.T) {
	l := New(nil)
	if f := l.Factor("unseen"); f != 1.0 {
		t.Fatalf("want default factor 1.0, got %v", f)
	}
}

func TestPreBoostFactorRampsBetweenBounds(t *testing.T) {
	far := preBoostFactor(600) // 10 minutes out
	near := preBoostFactor(60) // 1 minute out

	if far != 0.95 {
		t.Fatalf("want 0.95 at 10 minutes out, got %v", far)
	}
	if near != 0.75 {
		t.Fatalf("want 0.75 at 1 minute out, got %v", near)
	}
}

func TestPostPeakFactorRampsBetweenBounds(t *testing.T) {
	start := postPeakFactor(0)
	end := postPeakFactor(3600)

	if start != 1.0 {
		t.Fatalf("want 1.0 at hour start, got %v", start)
	}
	if end != 1.2 {
		t.Fatalf("want 1.2 at hour end, got %v", end)
	}
}

// A sensor that's consistently quiet at 8am but highly attended at 9am
// should be predicted as pre-boost (factor below 1.0) when evaluated late
// in the 8am hour with high confidence, per §4.7.
func TestLearnAndPredictClassifiesPreBoost(t *testing.T) {
	l := New(nil)

	// Events older than 14 days get trimmed by Observe, so pack several
	// observations into each hour each day to clear the confidence floor
	// (n/50 sample-count term) within that retained window.
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday
	for day := 0; day < 13; day++ {
		d := base.AddDate(0, 0, day)
		for m := 0; m < 5; m++ {
			offset := time.Duration(m) * time.Minute
			// hour 8: low attention (quiet build-up).
			l.Observe("s1", attention.LevelLow, d.Add(8*time.Hour+offset))
			// hour 9: consistently high attention.
			l.Observe("s1", attention.LevelHigh, d.Add(9*time.Hour+offset))
		}
	}
	l.learnOnce()

	// Evaluate at 8:55 on the last day in the window: next hour (9) is
	// much higher than the current hour (8), with enough samples/variance
	// for confidence.
	now := base.AddDate(0, 0, 12).Add(8*time.Hour + 55*time.Minute)
	factors := l.predictOnce(now)

	f, ok := factors["s1"]
	if !ok {
		t.Fatal("expected a predicted factor for s1")
	}
	if f >= 1.0 {
		t.Fatalf("want a pre-boost factor below 1.0 approaching a known peak hour, got %v", f)
	}
}

func TestObserveTrimsEventsOutsideWindow(t *testing.T) {
	l := New(nil)
	old := time.Unix(0, 0)
	l.Observe("s1", attention.LevelHigh, old)

	recent := old.Add(20 * 24 * time.Hour) // beyond the 14-day window
	l.Observe("s1", attention.LevelLow, recent)

	l.mu.Lock()
	n := len(l.events["s1"])
	l.mu.Unlock()
	if n != 1 {
		t.Fatalf("want the stale event trimmed, retained %d events", n)
	}
}
