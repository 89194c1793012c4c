package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/lock"
	"github.com/planet42129/hdmp-redis/internal/metrics"
	"github.com/planet42129/hdmp-redis/internal/port"
)

// OrderPipeline turns accepted admissions into persisted orders exactly
// once. One consumer per process reads the log in group order, persists
// under a per-user lock with an existence re-check, then acknowledges.
// Entries delivered but never acked survive a crash in the pending list and
// are reprocessed on the next start or after a read error.
type OrderPipeline struct {
	log     port.OrderLog
	orders  port.OrderRepository
	store   port.CacheStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	group    string
	consumer string

	blockTimeout time.Duration
	lockLease    time.Duration
	lockRetry    time.Duration
	lockWait     time.Duration
	retryDelay   time.Duration
}

func NewOrderPipeline(
	log port.OrderLog,
	orders port.OrderRepository,
	store port.CacheStore,
	group, consumer string,
	blockTimeout time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OrderPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}
	return &OrderPipeline{
		log:          log,
		orders:       orders,
		store:        store,
		logger:       logger,
		metrics:      m,
		group:        group,
		consumer:     consumer,
		blockTimeout: blockTimeout,
		lockLease:    10 * time.Second,
		lockRetry:    50 * time.Millisecond,
		lockWait:     1 * time.Second,
		retryDelay:   20 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled. It first drains entries this consumer
// left pending in a previous incarnation, so a crash between delivery and
// ack loses nothing.
func (p *OrderPipeline) Run(ctx context.Context) error {
	if err := p.log.EnsureGroup(ctx, p.group); err != nil {
		return fmt.Errorf("ensure consumer group %s: %w", p.group, err)
	}

	p.recoverPending(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, err := p.log.ReadNew(ctx, p.group, p.consumer, 1, p.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("read order stream", zap.Error(err))
			p.recoverPending(ctx)
			continue
		}
		for _, e := range entries {
			if err := p.handle(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("handle order entry", zap.String("entry_id", e.ID), zap.Error(err))
				p.recoverPending(ctx)
			}
		}
	}
}

// recoverPending reprocesses every entry delivered to this consumer but
// never acknowledged, oldest first, until the pending list is empty.
// Persistence failures are retried here indefinitely; redelivery, not
// dropping, is the recovery mechanism.
func (p *OrderPipeline) recoverPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := p.log.ReadPending(ctx, p.group, p.consumer, 1)
		if err != nil {
			p.logger.Error("read pending entries", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if len(entries) == 0 {
			return
		}
		for _, e := range entries {
			if err := p.handle(ctx, e); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("reprocess pending entry", zap.String("entry_id", e.ID), zap.Error(err))
				p.sleep(ctx)
				continue
			}
			p.metrics.PendingReplays.Inc()
		}
	}
}

func (p *OrderPipeline) handle(ctx context.Context, e port.LogEntry) error {
	order, err := parseOrderEntry(e.Values)
	if err != nil {
		// Redelivery can never fix a malformed entry; drop it loudly.
		p.logger.Error("malformed order entry",
			zap.String("entry_id", e.ID), zap.Any("values", e.Values), zap.Error(err))
		return p.log.Ack(ctx, p.group, e.ID)
	}
	if err := p.persist(ctx, order); err != nil {
		return err
	}
	if err := p.log.Ack(ctx, p.group, e.ID); err != nil {
		return fmt.Errorf("ack entry %s: %w", e.ID, err)
	}
	return nil
}

// persist writes the order under the per-user lock. The existence re-check
// inside the lock, together with the conditional stock update, makes this
// idempotent: a redelivered entry finds its order row and becomes a no-op.
func (p *OrderPipeline) persist(ctx context.Context, order *domain.VoucherOrder) error {
	mu := lock.NewMutex(p.store, fmt.Sprintf("order:%d", order.UserID))
	ok, err := mu.Acquire(ctx, p.lockLease, p.lockRetry, p.lockWait)
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		p.metrics.LockContention.Inc()
		return fmt.Errorf("order lock busy for user %d", order.UserID)
	}
	defer func() {
		if uerr := mu.Unlock(ctx); uerr != nil {
			p.logger.Warn("release order lock",
				zap.Int64("user_id", order.UserID), zap.Error(uerr))
		}
	}()

	exists, err := p.orders.HasVoucherOrder(ctx, order.UserID, order.VoucherID)
	if err != nil {
		return fmt.Errorf("check existing order: %w", err)
	}
	if exists {
		p.logger.Info("order already persisted",
			zap.Int64("order_id", order.ID), zap.Int64("user_id", order.UserID))
		return nil
	}

	if err := p.orders.CreateVoucherOrder(ctx, order); err != nil {
		return fmt.Errorf("create order %d: %w", order.ID, err)
	}
	p.metrics.OrdersPersisted.Inc()
	p.logger.Info("order persisted",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("voucher_id", order.VoucherID))
	return nil
}

func (p *OrderPipeline) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.retryDelay):
	}
}

func parseOrderEntry(values map[string]string) (*domain.VoucherOrder, error) {
	id, err := strconv.ParseInt(values["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse id %q: %w", values["id"], err)
	}
	userID, err := strconv.ParseInt(values["userId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse userId %q: %w", values["userId"], err)
	}
	voucherID, err := strconv.ParseInt(values["voucherId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse voucherId %q: %w", values["voucherId"], err)
	}
	now := time.Now()
	return &domain.VoucherOrder{
		ID:        id,
		UserID:    userID,
		VoucherID: voucherID,
		Status:    domain.OrderStatusUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
