// Package store defines the storage abstractions used by defcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// metadata, no re-encoding, no mutation). If a store performs internal
// transforms (e.g., compression), they MUST be fully reversed so that the
// bytes returned by Get are identical to the bytes provided to Set.
//
// The keyspaces "<ns>:" and "tag:<ns>:" are owned by the engine. External
// code MUST NOT write values under these prefixes; foreign writes may be
// treated as corruption by strict wire-format validation and deleted.
package store

import (
	"context"
	"time"
)

// Store is the distributed byte store shared across all processes using the
// same namespace. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. A non-positive TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// ScanPrefix returns every key that starts with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Expire resets the TTL of an existing key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Local is a bounded, strictly per-process accelerator. It is never
// authoritative for expiry decisions: entries carry their own deadlines and
// the engine re-validates them on read.
type Local interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
