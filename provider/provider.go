// Package provider defines the byte store the "provider" persistence
// backends write through.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// []byte previously passed to Set for a key. The "entry:<entity>:" and
// "doc:<entity>" keyspaces are owned by entcache; foreign writes there fail
// wire validation and surface as hydration errors.
package provider

import (
	"context"
)

// Provider is a minimal byte store. Must be safe for concurrent use.
// Entries are expected to live until deleted; stores that evict (bigcache,
// ristretto) give the entity a bounded, best-effort second tier rather than
// durability.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value without expiry.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
