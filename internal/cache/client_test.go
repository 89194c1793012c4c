package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planet42129/hdmp-redis/internal/adapter/storage"
	"github.com/planet42129/hdmp-redis/internal/metrics"
)

type testEntity struct {
	ID   int64
	Name string
}

func newTestClient(t *testing.T, store *storage.MemoryStore, pool *RebuildPool) *Client[testEntity] {
	t.Helper()
	c, err := NewClient(Options[testEntity]{
		Prefix:    "cache:test:",
		Store:     store,
		Pool:      pool,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		TTL:       time.Minute,
		AbsentTTL: time.Minute,
	})
	require.NoError(t, err)
	return c
}

func TestPassThrough_CachesValue(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(_ context.Context, id int64) (*testEntity, error) {
		calls.Add(1)
		return &testEntity{ID: id, Name: "shop"}, nil
	}

	v, err := c.GetPassThrough(ctx, 1, fallback)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "shop", v.Name)

	v, err = c.GetPassThrough(ctx, 1, fallback)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int32(1), calls.Load(), "second read must be served from cache")
}

func TestPassThrough_NegativeCacheShortCircuits(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(_ context.Context, _ int64) (*testEntity, error) {
		calls.Add(1)
		return nil, nil
	}

	v, err := c.GetPassThrough(ctx, 42, fallback)
	require.NoError(t, err)
	assert.Nil(t, v)
	require.Equal(t, int32(1), calls.Load())

	// Every further read within the marker TTL must not reach the source.
	for i := 0; i < 10; i++ {
		v, err = c.GetPassThrough(ctx, 42, fallback)
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestPassThrough_SelfHealsCorruptEntry(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cache:test:7", []byte("not an envelope"), 0))

	var calls atomic.Int32
	fallback := func(_ context.Context, id int64) (*testEntity, error) {
		calls.Add(1)
		return &testEntity{ID: id}, nil
	}

	v, err := c.GetPassThrough(ctx, 7, fallback)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogical_MissWithoutPrewarm(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)

	var calls atomic.Int32
	fallback := func(_ context.Context, _ int64) (*testEntity, error) {
		calls.Add(1)
		return &testEntity{}, nil
	}

	v, err := c.GetLogical(context.Background(), 1, fallback)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, int32(0), calls.Load(), "logical strategy never rebuilds on a physical miss")
}

func TestLogical_FreshHitSkipsLock(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	require.NoError(t, c.SetLogical(ctx, 1, testEntity{ID: 1, Name: "fresh"}, time.Minute))

	var calls atomic.Int32
	fallback := func(_ context.Context, _ int64) (*testEntity, error) {
		calls.Add(1)
		return nil, nil
	}

	v, err := c.GetLogical(ctx, 1, fallback)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "fresh", v.Name)
	assert.Equal(t, int32(0), calls.Load())
}

func TestLogical_StaleReadsSingleRebuild(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(2, 16, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	// Negative TTL: the entry is stale the moment it is written.
	require.NoError(t, c.SetLogical(ctx, 1, testEntity{ID: 1, Name: "stale"}, -time.Second))

	var calls atomic.Int32
	rebuilt := make(chan struct{})
	fallback := func(_ context.Context, id int64) (*testEntity, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond) // keep the rebuild in flight while readers pile up
		close(rebuilt)
		return &testEntity{ID: id, Name: "rebuilt"}, nil
	}

	const readers = 10
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetLogical(ctx, 1, fallback)
			assert.NoError(t, err)
			if assert.NotNil(t, v) {
				assert.Equal(t, "stale", v.Name, "stale readers must never block on the rebuild")
			}
		}()
	}
	wg.Wait()

	select {
	case <-rebuilt:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild never ran")
	}
	assert.Equal(t, int32(1), calls.Load(), "exactly one rebuild for N stale readers")

	// The refreshed value becomes visible once the rebuild finishes.
	require.Eventually(t, func() bool {
		v, err := c.GetLogical(ctx, 1, fallback)
		return err == nil && v != nil && v.Name == "rebuilt"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogical_RebuildFailureReleasesLock(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	require.NoError(t, c.SetLogical(ctx, 1, testEntity{Name: "stale"}, -time.Second))

	var calls atomic.Int32
	failing := func(_ context.Context, _ int64) (*testEntity, error) {
		calls.Add(1)
		return nil, assert.AnError
	}

	v, err := c.GetLogical(ctx, 1, failing)
	require.NoError(t, err)
	require.NotNil(t, v, "the caller still gets the stale value")

	// The failed rebuild must release the lock so the next stale read can retry.
	require.Eventually(t, func() bool {
		_, ok, _ := store.Get(ctx, "lock:cache:test:1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = c.GetLogical(ctx, 1, failing)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidate(t *testing.T) {
	store := storage.NewMemoryStore()
	pool := NewRebuildPool(1, 4, nil)
	defer pool.Close()
	c := newTestClient(t, store, pool)
	ctx := context.Background()

	var calls atomic.Int32
	fallback := func(_ context.Context, id int64) (*testEntity, error) {
		calls.Add(1)
		return &testEntity{ID: id}, nil
	}

	_, err := c.GetPassThrough(ctx, 3, fallback)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 3))

	_, err = c.GetPassThrough(ctx, 3, fallback)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
