package domain

import "time"

type OrderStatus string

const (
	OrderStatusUnpaid    OrderStatus = "unpaid"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type VoucherOrder struct {
	ID        int64
	UserID    int64
	VoucherID int64
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
