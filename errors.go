package defcache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on an engine after Close.
	ErrClosed = errors.New("defcache: engine is closed")

	// ErrDefinitionExists is returned by Define when the name is already
	// registered on the engine.
	ErrDefinitionExists = errors.New("defcache: definition name already registered")

	// errCircuitOpen short-circuits store calls while the breaker is open.
	// Never surfaced to callers; read paths degrade to fetch-only.
	errCircuitOpen = errors.New("defcache: circuit open")
)

// InvalidKeyError reports a defective key function: it panicked or produced
// an empty key. This is a programming error, not a transient condition, and
// always surfaces synchronously to the caller.
type InvalidKeyError struct {
	Definition string
	Cause      error
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("defcache: invalid key for definition %q: %v", e.Definition, e.Cause)
}

func (e *InvalidKeyError) Unwrap() error { return e.Cause }
