// Package lock implements cross-process mutual exclusion on top of the
// shared cache tier. A lock is one key holding an opaque token; the lease
// TTL is the crash-recovery mechanism.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planet42129/hdmp-redis/internal/port"
)

const keyPrefix = "lock:"

// Mutex guards one resource key. Each Mutex carries its own holder token, so
// releasing never deletes a lock that expired and was re-acquired by someone
// else. Not safe for concurrent use by multiple goroutines; create one Mutex
// per acquisition attempt.
type Mutex struct {
	store port.CacheStore
	key   string
	token string
}

func NewMutex(store port.CacheStore, name string) *Mutex {
	return &Mutex{
		store: store,
		key:   keyPrefix + name,
		token: uuid.NewString(),
	}
}

// TryLock attempts a single fail-fast acquisition with the given lease.
// Contention is not an error; it returns false.
func (m *Mutex) TryLock(ctx context.Context, lease time.Duration) (bool, error) {
	ok, err := m.store.SetIfAbsent(ctx, m.key, []byte(m.token), lease)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", m.key, err)
	}
	return ok, nil
}

// Unlock releases the lock via an atomic compare-and-delete. If the lease
// already expired and the key belongs to another holder, this is a no-op.
func (m *Mutex) Unlock(ctx context.Context) error {
	if _, err := m.store.CompareAndDelete(ctx, m.key, m.token); err != nil {
		return fmt.Errorf("release %s: %w", m.key, err)
	}
	return nil
}

// Acquire polls TryLock every retryEvery until it succeeds, maxWait elapses
// or ctx is cancelled. Returns false (not an error) on timeout.
func (m *Mutex) Acquire(ctx context.Context, lease, retryEvery, maxWait time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := m.TryLock(ctx, lease)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}
