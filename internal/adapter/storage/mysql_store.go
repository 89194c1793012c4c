package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/port"
)

// ErrStockDepleted is returned when the conditional stock decrement affects
// zero rows: the authoritative stock reached zero before this order.
var ErrStockDepleted = errors.New("voucher stock depleted")

type MySQLStore struct {
	db *sql.DB
}

var (
	_ port.ShopRepository    = (*MySQLStore)(nil)
	_ port.VoucherRepository = (*MySQLStore)(nil)
	_ port.OrderRepository   = (*MySQLStore)(nil)
)

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (m *MySQLStore) GetShopByID(ctx context.Context, id int64) (*domain.Shop, error) {
	var shop domain.Shop
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, address, avg_price, score, created_at, updated_at
		FROM shops WHERE id = ?`, id,
	).Scan(&shop.ID, &shop.Name, &shop.Address, &shop.AvgPrice, &shop.Score,
		&shop.CreatedAt, &shop.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shop: %w", err)
	}
	return &shop, nil
}

func (m *MySQLStore) UpdateShop(ctx context.Context, shop *domain.Shop) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE shops
		SET name = ?, address = ?, avg_price = ?, score = ?, updated_at = NOW()
		WHERE id = ?`,
		shop.Name, shop.Address, shop.AvgPrice, shop.Score, shop.ID,
	)
	if err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	return nil
}

func (m *MySQLStore) GetVoucherByID(ctx context.Context, id int64) (*domain.Voucher, error) {
	var v domain.Voucher
	err := m.db.QueryRowContext(ctx, `
		SELECT id, shop_id, title, stock, begin_time, end_time
		FROM vouchers WHERE id = ?`, id,
	).Scan(&v.ID, &v.ShopID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query voucher: %w", err)
	}
	return &v, nil
}

func (m *MySQLStore) GetVoucherStock(ctx context.Context, id int64) (int, error) {
	var stock int
	err := m.db.QueryRowContext(ctx, `SELECT stock FROM vouchers WHERE id = ?`, id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("voucher %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("query voucher stock: %w", err)
	}
	return stock, nil
}

func (m *MySQLStore) HasVoucherOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voucher_orders WHERE user_id = ? AND voucher_id = ?`,
		userID, voucherID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count voucher orders: %w", err)
	}
	return count > 0, nil
}

func (m *MySQLStore) CreateVoucherOrder(ctx context.Context, order *domain.VoucherOrder) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE vouchers
		SET stock = stock - 1
		WHERE id = ? AND stock > 0`,
		order.VoucherID,
	)
	if err != nil {
		return fmt.Errorf("decrement voucher stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStockDepleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voucher_orders (id, user_id, voucher_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.VoucherID, order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert voucher order: %w", err)
	}

	return tx.Commit()
}
