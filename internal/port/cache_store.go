package port

import (
	"context"
	"time"
)

// CacheStore is the narrow key-value surface of the shared cache tier.
// A missing key is reported through the bool, not as an error.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with a store-level TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent sets the key only if it does not exist, returns false otherwise.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	// CompareAndDelete deletes the key only if its current value equals expect.
	// The comparison and delete run as a single atomic step on the store.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// Increment atomically increments the counter at key and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
}
