package sensor

import "github.com/pkg/errors"

var (
	ErrUnknownSensor = errors.New("sensor: unknown sensor")
	ErrOffline       = errors.New("sensor: offline")
)
