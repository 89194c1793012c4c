package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planet42129/hdmp-redis/internal/cache"
	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/port"
)

var ErrShopNotFound = errors.New("shop not found")

// ShopService fronts shop reads with the cache-aside client. Regular shops
// read through with negative caching; designated hot shops are pre-warmed
// with logical expiry so reads never miss during a rebuild.
type ShopService struct {
	shops  *cache.Client[domain.Shop]
	repo   port.ShopRepository
	logger *zap.Logger
}

func NewShopService(shops *cache.Client[domain.Shop], repo port.ShopRepository, logger *zap.Logger) *ShopService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShopService{shops: shops, repo: repo, logger: logger}
}

func (s *ShopService) GetShop(ctx context.Context, id int64) (*domain.Shop, error) {
	shop, err := s.shops.GetPassThrough(ctx, id, s.repo.GetShopByID)
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, ErrShopNotFound
	}
	return shop, nil
}

// GetHotShop serves a pre-warmed, logically-expiring entry. A stale value is
// returned immediately while at most one rebuild runs in the background; an
// un-warmed shop reads as not found.
func (s *ShopService) GetHotShop(ctx context.Context, id int64) (*domain.Shop, error) {
	shop, err := s.shops.GetLogical(ctx, id, s.repo.GetShopByID)
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, ErrShopNotFound
	}
	return shop, nil
}

// SaveHotShop pre-warms the logical-expiration entry for a shop.
func (s *ShopService) SaveHotShop(ctx context.Context, id int64, ttl time.Duration) error {
	shop, err := s.repo.GetShopByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load shop %d: %w", id, err)
	}
	if shop == nil {
		return ErrShopNotFound
	}
	return s.shops.SetLogical(ctx, id, *shop, ttl)
}

// UpdateShop writes the source of record first, then invalidates the cached
// entry; the next read repopulates it.
func (s *ShopService) UpdateShop(ctx context.Context, shop *domain.Shop) error {
	if shop.ID == 0 {
		return fmt.Errorf("shop id is required")
	}
	if err := s.repo.UpdateShop(ctx, shop); err != nil {
		return err
	}
	if err := s.shops.Invalidate(ctx, shop.ID); err != nil {
		// The DB write already happened; a failed invalidation only extends
		// staleness until the entry's TTL.
		s.logger.Warn("invalidate shop cache", zap.Int64("shop_id", shop.ID), zap.Error(err))
	}
	return nil
}
