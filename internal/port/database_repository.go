package port

import (
	"context"

	"github.com/planet42129/hdmp-redis/internal/core/domain"
)

type ShopRepository interface {
	// GetShopByID returns (nil, nil) when the shop does not exist.
	GetShopByID(ctx context.Context, id int64) (*domain.Shop, error)

	UpdateShop(ctx context.Context, shop *domain.Shop) error
}

type VoucherRepository interface {
	// GetVoucherByID returns (nil, nil) when the voucher does not exist.
	GetVoucherByID(ctx context.Context, id int64) (*domain.Voucher, error)

	GetVoucherStock(ctx context.Context, id int64) (int, error)
}

type OrderRepository interface {
	HasVoucherOrder(ctx context.Context, userID, voucherID int64) (bool, error)

	// CreateVoucherOrder decrements voucher stock with a conditional update and
	// inserts the order row in one transaction. Returns ErrStockDepleted from
	// the adapter when the conditional update affects zero rows.
	CreateVoucherOrder(ctx context.Context, order *domain.VoucherOrder) error
}
