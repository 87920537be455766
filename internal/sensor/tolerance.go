package sensor

import "time"

// OutOfOrderTolerance resolves Open Question 3: per-attribute-type late-
// arrival tolerance. ECG tolerates less clock skew than slowly-changing
// attributes like battery or geolocation.
func OutOfOrderTolerance(attrType string, dflt time.Duration) time.Duration {
	switch attrType {
	case "ecg":
		return 2 * time.Second
	case "battery", "geolocation":
		return 30 * time.Second
	default:
		return dflt
	}
}

// EarlyTolerance is the forward clock-skew allowance: a measurement more
// than this far in the future is rejected (§4.3 boundary: now+2s ok,
// now+2.001s rejected).
const EarlyTolerance = 2 * time.Second
