package actor

import "github.com/pkg/errors"

// Sentinel errors surfaced at worker/registry boundaries (§7): workers
// never raise to callers, they return one of these as a typed value.
var (
	ErrCapacityExhausted = errors.New("actor: node-local capacity exhausted")
	ErrNotFound          = errors.New("actor: not found")
	ErrAlreadyShutdown   = errors.New("actor: already shut down")
	ErrRestartStorm      = errors.New("actor: supervisor restart budget exceeded")
)
