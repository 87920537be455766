// Package ratomic re-exports the standard library's typed atomics under
// short names (atomic.Int64, atomic.Int32, ...) so the rest of the tree
// reads the same at every call site.
package ratomic

import "sync/atomic"

type (
	Int64  = atomic.Int64
	Int32  = atomic.Int32
	Uint64 = atomic.Uint64
	Bool   = atomic.Bool
)
