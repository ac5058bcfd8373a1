package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers the response produced for an idempotency key so
// a replayed request returns the original result instead of re-applying it.
type IdempotencyStore interface {
	// Lookup returns the stored response for key, and false if none exists or
	// it has expired
	Lookup(ctx context.Context, key string) ([]byte, bool, error)

	// Remember stores the response for key with a TTL. An existing unexpired
	// entry is left untouched.
	Remember(ctx context.Context, key string, response []byte, ttl time.Duration) error

	// Close closes the store and releases resources
	Close() error
}

// DefaultIdempotencyTTL is how long a merge response is replayable
const DefaultIdempotencyTTL = 24 * time.Hour
