package sensor

import (
	"testing"
	"time"
)

func TestOutOfOrderToleranceByAttributeType(t *testing.T) {
	dflt := 10 * time.Second

	cases := []struct {
		attrType string
		want     time.Duration
	}{
		{"ecg", 2 * time.Second},
		{"battery", 30 * time.Second},
		{"geolocation", 30 * time.Second},
		{"heartrate", dflt},
		{"unknown-type", dflt},
	}
	for _, c := range cases {
		if got := OutOfOrderTolerance(c.attrType, dflt); got != c.want {
			t.Fatalf("OutOfOrderTolerance(%q) = %v, want %v", c.attrType, got, c.want)
		}
	}
}
