// Payload implements the closed tagged union from §6 as a Go sum
// type: one concrete struct per semantic type, behind the Payload
// interface, per Design Note "Dynamic payload shapes" — validation,
// routing and novelty extraction all need statically known fields.
package sensor

import (
	"math"

	"github.com/pkg/errors"
)

// Payload is one measurement's type-tagged value.
type Payload interface {
	// Tag is the semantic type string (§3 SensorAttribute).
	Tag() string
	// Validate reports InvalidPayload-worthy structural problems: missing
	// or out-of-range fields.
	Validate() error
	// Numeric extracts the scalar the novelty detector (§4.6) should track.
	// ok is false for payloads with no sensible scalar (e.g. Button).
	// Resolves Open Question 1: IMU triplets use the vector norm, ECG
	// arrays use the last sample, everything else reads its primary field.
	Numeric() (value float64, ok bool)
}

var ErrInvalidPayload = errors.New("sensor: invalid payload")

type ECG struct{ Values []float32 } // mV samples

func (ECG) Tag() string { return "ecg" }
func (p ECG) Validate() error {
	if len(p.Values) == 0 {
		return errors.Wrap(ErrInvalidPayload, "ecg: values required")
	}
	return nil
}
func (p ECG) Numeric() (float64, bool) {
	if len(p.Values) == 0 {
		return 0, false
	}
	return float64(p.Values[len(p.Values)-1]), true
}

type HeartRate struct{ BPM int }

func (HeartRate) Tag() string { return "heartrate" }
func (p HeartRate) Validate() error {
	if p.BPM <= 0 || p.BPM > 300 {
		return errors.Wrap(ErrInvalidPayload, "heartrate: bpm out of range")
	}
	return nil
}
func (p HeartRate) Numeric() (float64, bool) { return float64(p.BPM), true }

type HRV struct {
	RMSSD float32
	SDNN  float32
}

func (HRV) Tag() string { return "hrv" }
func (p HRV) Validate() error {
	if p.RMSSD < 0 || p.SDNN < 0 {
		return errors.Wrap(ErrInvalidPayload, "hrv: negative field")
	}
	return nil
}
func (p HRV) Numeric() (float64, bool) { return float64(p.RMSSD), true }

type SpO2 struct{ Value float32 }

func (SpO2) Tag() string { return "spo2" }
func (p SpO2) Validate() error {
	if p.Value < 0 || p.Value > 100 {
		return errors.Wrap(ErrInvalidPayload, "spo2: out of [0,100]")
	}
	return nil
}
func (p SpO2) Numeric() (float64, bool) { return float64(p.Value), true }

type Accelerometer struct{ X, Y, Z float32 } // m/s^2

func (Accelerometer) Tag() string { return "accelerometer" }
func (Accelerometer) Validate() error { return nil }
func (p Accelerometer) Numeric() (float64, bool) {
	return math.Sqrt(float64(p.X)*float64(p.X) + float64(p.Y)*float64(p.Y) + float64(p.Z)*float64(p.Z)), true
}

type Gyroscope struct{ X, Y, Z float32 } // rad/s

func (Gyroscope) Tag() string { return "gyroscope" }
func (Gyroscope) Validate() error { return nil }
func (p Gyroscope) Numeric() (float64, bool) {
	return math.Sqrt(float64(p.X)*float64(p.X) + float64(p.Y)*float64(p.Y) + float64(p.Z)*float64(p.Z)), true
}

type Quaternion struct{ W, X, Y, Z float32 }

func (Quaternion) Tag() string { return "quaternion" }
func (Quaternion) Validate() error { return nil }
func (p Quaternion) Numeric() (float64, bool) {
	return math.Sqrt(float64(p.W)*float64(p.W) + float64(p.X)*float64(p.X) +
		float64(p.Y)*float64(p.Y) + float64(p.Z)*float64(p.Z)), true
}

type Geolocation struct {
	Latitude, Longitude float64
	Altitude, Speed, Heading, Accuracy *float64
}

func (Geolocation) Tag() string { return "geolocation" }
func (p Geolocation) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return errors.Wrap(ErrInvalidPayload, "geolocation: out of range")
	}
	return nil
}
func (p Geolocation) Numeric() (float64, bool) {
	if p.Speed != nil {
		return *p.Speed, true
	}
	return 0, false
}

type Temperature struct{ Value float32 } // degrees C

func (Temperature) Tag() string { return "temperature" }
func (Temperature) Validate() error { return nil }
func (p Temperature) Numeric() (float64, bool) { return float64(p.Value), true }

type Battery struct {
	Level    float32
	Charging bool
}

func (Battery) Tag() string { return "battery" }
func (p Battery) Validate() error {
	if p.Level < 0 || p.Level > 100 {
		return errors.Wrap(ErrInvalidPayload, "battery: level out of [0,100]")
	}
	return nil
}
func (p Battery) Numeric() (float64, bool) { return float64(p.Level), true }

type Button struct{ Pressed bool }

func (Button) Tag() string    { return "button" }
func (Button) Validate() error { return nil }
func (Button) Numeric() (float64, bool) { return 0, false }
