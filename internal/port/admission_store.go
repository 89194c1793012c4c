package port

import "context"

type AdmissionCode int64

const (
	AdmissionAccepted  AdmissionCode = 0
	AdmissionNoStock   AdmissionCode = 1
	AdmissionDuplicate AdmissionCode = 2
)

// AdmissionStore decides flash-sale admission in one atomic round-trip.
type AdmissionStore interface {
	// ReserveVoucher checks stock and one-order-per-user membership, and on
	// success decrements stock, records the user and appends the order to the
	// durable log. All of it runs as one indivisible evaluation on the store.
	ReserveVoucher(ctx context.Context, voucherID, userID, orderID int64) (AdmissionCode, error)

	// SetStock seeds the cache-tier stock counter for a voucher.
	SetStock(ctx context.Context, voucherID int64, stock int) error
}
