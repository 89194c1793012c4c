package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planet42129/hdmp-redis/internal/cache"
	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/metrics"
	"github.com/planet42129/hdmp-redis/internal/port"
	"github.com/planet42129/hdmp-redis/internal/sequence"
)

var (
	ErrVoucherNotFound = errors.New("voucher not found")
	ErrSaleNotStarted  = errors.New("sale has not started")
	ErrSaleEnded       = errors.New("sale has ended")
	ErrSoldOut         = errors.New("voucher sold out")
	ErrAlreadyOrdered  = errors.New("user already ordered this voucher")
)

// SeckillService is the flash-sale admission gate: one atomic round-trip to
// the cache tier decides accept/reject, and an accepted request is already
// durably enqueued when Purchase returns. The caller never waits for order
// persistence; that is the pipeline's job.
type SeckillService struct {
	admission port.AdmissionStore
	vouchers  *cache.Client[domain.Voucher]
	repo      port.VoucherRepository
	seq       *sequence.Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewSeckillService(
	admission port.AdmissionStore,
	vouchers *cache.Client[domain.Voucher],
	repo port.VoucherRepository,
	seq *sequence.Generator,
	logger *zap.Logger,
	m *metrics.Metrics,
) *SeckillService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeckillService{
		admission: admission,
		vouchers:  vouchers,
		repo:      repo,
		seq:       seq,
		logger:    logger,
		metrics:   m,
	}
}

// Purchase admits or rejects one (user, voucher) request. On acceptance it
// returns the minted order id; rejections come back as ErrSoldOut or
// ErrAlreadyOrdered, which are business outcomes, not faults.
func (s *SeckillService) Purchase(ctx context.Context, userID, voucherID int64) (int64, error) {
	start := time.Now()

	v, err := s.vouchers.GetPassThrough(ctx, voucherID, s.repo.GetVoucherByID)
	if err != nil {
		return 0, fmt.Errorf("load voucher %d: %w", voucherID, err)
	}
	if v == nil {
		return 0, ErrVoucherNotFound
	}
	now := time.Now()
	if now.Before(v.BeginTime) {
		return 0, ErrSaleNotStarted
	}
	if now.After(v.EndTime) {
		return 0, ErrSaleEnded
	}

	orderID, err := s.seq.NextID(ctx, "order")
	if err != nil {
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	code, err := s.admission.ReserveVoucher(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, fmt.Errorf("reserve voucher %d: %w", voucherID, err)
	}
	s.metrics.AdmissionSeconds.Observe(time.Since(start).Seconds())

	switch code {
	case port.AdmissionAccepted:
		s.metrics.Admissions.WithLabelValues("accepted").Inc()
		return orderID, nil
	case port.AdmissionNoStock:
		s.metrics.Admissions.WithLabelValues("no_stock").Inc()
		return 0, ErrSoldOut
	case port.AdmissionDuplicate:
		s.metrics.Admissions.WithLabelValues("duplicate").Inc()
		return 0, ErrAlreadyOrdered
	default:
		return 0, fmt.Errorf("unexpected admission code %d for voucher %d", code, voucherID)
	}
}

// WarmStock copies the authoritative stock into the cache-tier counter. Run
// it at startup and after a cache flush, never mid-sale: re-seeding while
// accepted entries are still in flight would resurrect reserved stock.
func (s *SeckillService) WarmStock(ctx context.Context, voucherID int64) error {
	stock, err := s.repo.GetVoucherStock(ctx, voucherID)
	if err != nil {
		return fmt.Errorf("load stock for voucher %d: %w", voucherID, err)
	}
	if err := s.admission.SetStock(ctx, voucherID, stock); err != nil {
		return fmt.Errorf("seed stock for voucher %d: %w", voucherID, err)
	}
	s.logger.Info("seckill stock warmed",
		zap.Int64("voucher_id", voucherID), zap.Int("stock", stock))
	return nil
}
