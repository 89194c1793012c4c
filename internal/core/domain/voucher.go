package domain

import "time"

// Voucher is a flash-sale voucher. Stock here is the authoritative column;
// the cache tier keeps its own pre-seeded counter for admission decisions.
type Voucher struct {
	ID        int64
	ShopID    int64
	Title     string
	Stock     int
	BeginTime time.Time
	EndTime   time.Time
}
