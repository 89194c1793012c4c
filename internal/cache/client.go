// Package cache implements a generic cache-aside client over the shared
// cache tier. It defends the source of record against penetration (negative
// caching), hotspot breakdown (lock-guarded single rebuild) and avalanche
// (TTL jitter), with a logical-expiration strategy that serves stale values
// while one rebuild runs in the background.
package cache

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/planet42129/hdmp-redis/internal/lock"
	"github.com/planet42129/hdmp-redis/internal/metrics"
	"github.com/planet42129/hdmp-redis/internal/port"
)

const (
	strategyPassThrough = "pass_through"
	strategyLogical     = "logical"

	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeNegative = "negative"
	outcomeStale    = "stale"
)

// FallbackFunc loads an entity from the source of record. It returns
// (nil, nil) when the entity does not exist; that result is cached as a
// known-absent marker by the pass-through strategy.
type FallbackFunc[V any] func(ctx context.Context, id int64) (*V, error)

type Options[V any] struct {
	// Prefix namespaces every key, e.g. "cache:shop:".
	Prefix string
	Store  port.CacheStore
	Pool   *RebuildPool

	Codec   Codec[V]         // nil => JSONCodec
	Logger  *zap.Logger      // nil => no-op
	Metrics *metrics.Metrics // required

	TTL            time.Duration // base TTL for values; also the logical expiry window
	AbsentTTL      time.Duration // TTL for known-absent markers
	Jitter         time.Duration // upper bound of the random TTL spread; 0 => TTL/10
	LockLease      time.Duration // rebuild lock lease
	RebuildTimeout time.Duration // budget for one background rebuild
}

type Client[V any] struct {
	prefix  string
	store   port.CacheStore
	pool    *RebuildPool
	codec   Codec[V]
	logger  *zap.Logger
	metrics *metrics.Metrics

	ttl            time.Duration
	absentTTL      time.Duration
	jitter         time.Duration
	lockLease      time.Duration
	rebuildTimeout time.Duration
}

func NewClient[V any](opts Options[V]) (*Client[V], error) {
	if opts.Prefix == "" {
		return nil, fmt.Errorf("cache: prefix is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("cache: store is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("cache: rebuild pool is required")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("cache: metrics are required")
	}

	c := &Client[V]{
		prefix:  opts.Prefix,
		store:   opts.Store,
		pool:    opts.Pool,
		codec:   opts.Codec,
		logger:  opts.Logger,
		metrics: opts.Metrics,

		ttl:            opts.TTL,
		absentTTL:      opts.AbsentTTL,
		jitter:         opts.Jitter,
		lockLease:      opts.LockLease,
		rebuildTimeout: opts.RebuildTimeout,
	}
	if c.codec == nil {
		c.codec = JSONCodec[V]{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.ttl == 0 {
		c.ttl = 30 * time.Minute
	}
	if c.absentTTL == 0 {
		c.absentTTL = 2 * time.Minute
	}
	if c.jitter == 0 {
		c.jitter = c.ttl / 10
	}
	if c.lockLease == 0 {
		c.lockLease = 10 * time.Second
	}
	if c.rebuildTimeout == 0 {
		c.rebuildTimeout = 5 * time.Second
	}
	return c, nil
}

func (c *Client[V]) key(id int64) string {
	return c.prefix + strconv.FormatInt(id, 10)
}

// withJitter decorrelates simultaneous expiries across many keys.
func (c *Client[V]) withJitter(ttl time.Duration) time.Duration {
	if c.jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(c.jitter)))
}

// Set stores a value with a store-level TTL.
func (c *Client[V]) Set(ctx context.Context, id int64, v V, ttl time.Duration) error {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key(id), err)
	}
	return c.store.Set(ctx, c.key(id), encodeEntry(entry{Payload: payload}), ttl)
}

// SetLogical stores a value with an embedded logical expiry and no
// store-level TTL: the entry never physically expires, a later read only
// discovers staleness.
func (c *Client[V]) SetLogical(ctx context.Context, id int64, v V, ttl time.Duration) error {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key(id), err)
	}
	e := entry{Payload: payload, ExpireAt: time.Now().Add(ttl)}
	return c.store.Set(ctx, c.key(id), encodeEntry(e), 0)
}

// Invalidate drops the cached entry; the next read rebuilds it.
func (c *Client[V]) Invalidate(ctx context.Context, id int64) error {
	return c.store.Delete(ctx, c.key(id))
}

// GetPassThrough reads through the cache with negative caching: a fallback
// miss writes a known-absent marker so repeated lookups of nonexistent ids
// never reach the source of record within the marker's TTL.
func (c *Client[V]) GetPassThrough(ctx context.Context, id int64, fallback FallbackFunc[V]) (*V, error) {
	key := c.key(id)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if ok {
		e, derr := decodeEntry(raw)
		switch {
		case derr != nil:
			c.selfHeal(ctx, key, derr)
		case e.Absent:
			c.metrics.CacheRequests.WithLabelValues(strategyPassThrough, outcomeNegative).Inc()
			return nil, nil
		default:
			v, cerr := c.codec.Decode(e.Payload)
			if cerr != nil {
				c.selfHeal(ctx, key, cerr)
				break
			}
			c.metrics.CacheRequests.WithLabelValues(strategyPassThrough, outcomeHit).Inc()
			return &v, nil
		}
	}

	c.metrics.CacheRequests.WithLabelValues(strategyPassThrough, outcomeMiss).Inc()
	v, err := fallback(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fallback %s: %w", key, err)
	}
	if v == nil {
		if serr := c.store.Set(ctx, key, encodeEntry(entry{Absent: true}), c.absentTTL); serr != nil {
			c.logger.Warn("write absent marker", zap.String("key", key), zap.Error(serr))
		}
		return nil, nil
	}
	if serr := c.Set(ctx, id, *v, c.withJitter(c.ttl)); serr != nil {
		c.logger.Warn("write cache entry", zap.String("key", key), zap.Error(serr))
	}
	return v, nil
}

// GetLogical reads a logically-expiring entry. A physical miss returns nil:
// this strategy requires pre-warming via SetLogical and never rebuilds
// synchronously. A stale hit returns the stale value immediately and, if the
// rebuild lock is free, schedules exactly one background rebuild.
func (c *Client[V]) GetLogical(ctx context.Context, id int64, fallback FallbackFunc[V]) (*V, error) {
	key := c.key(id)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !ok {
		c.metrics.CacheRequests.WithLabelValues(strategyLogical, outcomeMiss).Inc()
		return nil, nil
	}
	e, derr := decodeEntry(raw)
	if derr != nil {
		c.selfHeal(ctx, key, derr)
		return nil, nil
	}
	if e.Absent {
		c.metrics.CacheRequests.WithLabelValues(strategyLogical, outcomeNegative).Inc()
		return nil, nil
	}
	v, cerr := c.codec.Decode(e.Payload)
	if cerr != nil {
		c.selfHeal(ctx, key, cerr)
		return nil, nil
	}

	if time.Now().Before(e.ExpireAt) {
		c.metrics.CacheRequests.WithLabelValues(strategyLogical, outcomeHit).Inc()
		return &v, nil
	}

	c.metrics.CacheRequests.WithLabelValues(strategyLogical, outcomeStale).Inc()
	c.scheduleRebuild(ctx, id, key, fallback)
	return &v, nil
}

// scheduleRebuild takes the per-key rebuild lock fail-fast; losing the race
// means another caller (possibly in another process) already rebuilds this
// key. The lock is released on every exit path of the task.
func (c *Client[V]) scheduleRebuild(ctx context.Context, id int64, key string, fallback FallbackFunc[V]) {
	mu := lock.NewMutex(c.store, key)
	ok, err := mu.TryLock(ctx, c.lockLease)
	if err != nil {
		c.logger.Warn("rebuild lock", zap.String("key", key), zap.Error(err))
		return
	}
	if !ok {
		c.metrics.LockContention.Inc()
		return
	}

	task := func() {
		// Detached from the caller: the rebuild must finish and release the
		// lock even after the originating request is gone.
		rctx, cancel := context.WithTimeout(context.Background(), c.rebuildTimeout)
		defer cancel()
		defer func() {
			if uerr := mu.Unlock(rctx); uerr != nil {
				c.logger.Warn("release rebuild lock", zap.String("key", key), zap.Error(uerr))
			}
		}()

		v, ferr := fallback(rctx, id)
		if ferr != nil {
			c.metrics.RebuildFailures.Inc()
			c.logger.Error("cache rebuild failed", zap.String("key", key), zap.Error(ferr))
			return
		}
		if v == nil {
			// The source no longer has it; drop the stale entry.
			if derr := c.store.Delete(rctx, key); derr != nil {
				c.logger.Warn("drop stale entry", zap.String("key", key), zap.Error(derr))
			}
			return
		}
		if serr := c.SetLogical(rctx, id, *v, c.ttl); serr != nil {
			c.metrics.RebuildFailures.Inc()
			c.logger.Error("cache rebuild write failed", zap.String("key", key), zap.Error(serr))
			return
		}
		c.metrics.CacheRebuilds.Inc()
	}

	if perr := c.pool.Submit(task); perr != nil {
		c.logger.Warn("rebuild not scheduled", zap.String("key", key), zap.Error(perr))
		if uerr := mu.Unlock(ctx); uerr != nil {
			c.logger.Warn("release rebuild lock", zap.String("key", key), zap.Error(uerr))
		}
	}
}

func (c *Client[V]) selfHeal(ctx context.Context, key string, cause error) {
	c.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(cause))
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("drop cache entry", zap.String("key", key), zap.Error(err))
	}
}
