package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planet42129/hdmp-redis/internal/adapter/storage"
	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/metrics"
)

type fakeOrderRepo struct {
	mu      sync.Mutex
	stock   map[int64]int
	orders  []domain.VoucherOrder
	creates int
}

func newFakeOrderRepo(stock map[int64]int) *fakeOrderRepo {
	if stock == nil {
		stock = make(map[int64]int)
	}
	return &fakeOrderRepo{stock: stock}
}

func (r *fakeOrderRepo) HasVoucherOrder(_ context.Context, userID, voucherID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.UserID == userID && o.VoucherID == voucherID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOrderRepo) CreateVoucherOrder(_ context.Context, order *domain.VoucherOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.stock[order.VoucherID] <= 0 {
		return storage.ErrStockDepleted
	}
	r.stock[order.VoucherID]--
	r.orders = append(r.orders, *order)
	return nil
}

func (r *fakeOrderRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func runPipeline(t *testing.T, p *OrderPipeline) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop after cancel")
		}
	})
	return cancel
}

func TestPipeline_PersistsAcceptedOrders(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := newFakeOrderRepo(map[int64]int{7: 3})
	ctx := context.Background()

	require.NoError(t, store.SetStock(ctx, 7, 3))
	for i := 0; i < 10; i++ {
		_, err := store.ReserveVoucher(ctx, 7, int64(100+i), int64(i+1))
		require.NoError(t, err)
	}

	m := metrics.New(prometheus.NewRegistry())
	p := NewOrderPipeline(store, repo, store, "g1", "c1", 50*time.Millisecond, nil, m)
	runPipeline(t, p)

	require.Eventually(t, func() bool {
		return repo.orderCount() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Every accepted entry is acked; nothing lingers pending.
	assert.Eventually(t, func() bool {
		pending, err := store.ReadPending(ctx, "g1", "c1", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, repo.stock[7])
}

func TestPipeline_RecoversPendingAfterCrash(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := newFakeOrderRepo(map[int64]int{7: 5})
	ctx := context.Background()

	require.NoError(t, store.SetStock(ctx, 7, 5))
	require.NoError(t, store.EnsureGroup(ctx, "g1"))
	_, err := store.ReserveVoucher(ctx, 7, 100, 1)
	require.NoError(t, err)

	// Simulate a consumer that read the entry and crashed before acking.
	entries, err := store.ReadNew(ctx, "g1", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	m := metrics.New(prometheus.NewRegistry())
	p := NewOrderPipeline(store, repo, store, "g1", "c1", 50*time.Millisecond, nil, m)
	runPipeline(t, p)

	require.Eventually(t, func() bool {
		return repo.orderCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		pending, err := store.ReadPending(ctx, "g1", "c1", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := newFakeOrderRepo(map[int64]int{7: 5})
	ctx := context.Background()

	// The order row already exists: the crash happened after persistence
	// but before the ack. The replay must not create a second row.
	require.NoError(t, repo.CreateVoucherOrder(ctx, &domain.VoucherOrder{
		ID: 1, UserID: 100, VoucherID: 7, Status: domain.OrderStatusUnpaid,
	}))

	require.NoError(t, store.SetStock(ctx, 7, 5))
	require.NoError(t, store.EnsureGroup(ctx, "g1"))
	_, err := store.ReserveVoucher(ctx, 7, 101, 2)
	require.NoError(t, err)

	// A stale duplicate of user 100's entry sits unacked in the pending list.
	require.NoError(t, appendRawEntry(ctx, store, 100, 7, 1))
	if _, err := store.ReadNew(ctx, "g1", "c1", 10, 100*time.Millisecond); err != nil {
		t.Fatalf("read new: %v", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	p := NewOrderPipeline(store, repo, store, "g1", "c1", 50*time.Millisecond, nil, m)
	runPipeline(t, p)

	require.Eventually(t, func() bool {
		pending, err := store.ReadPending(ctx, "g1", "c1", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Two orders total: user 100's pre-existing row plus user 101's new one.
	assert.Equal(t, 2, repo.orderCount())
	exists, err := repo.HasVoucherOrder(ctx, 100, 7)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPipeline_DropsMalformedEntry(t *testing.T) {
	store := storage.NewMemoryStore()
	repo := newFakeOrderRepo(map[int64]int{7: 5})
	ctx := context.Background()

	require.NoError(t, store.EnsureGroup(ctx, "g1"))
	require.NoError(t, store.Append(ctx, map[string]string{
		"id": "not-a-number", "userId": "100", "voucherId": "7",
	}))

	m := metrics.New(prometheus.NewRegistry())
	p := NewOrderPipeline(store, repo, store, "g1", "c1", 50*time.Millisecond, nil, m)
	runPipeline(t, p)

	// The poison entry is acked away without producing an order.
	require.Eventually(t, func() bool {
		pending, err := store.ReadPending(ctx, "g1", "c1", 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, repo.orderCount())
}

func appendRawEntry(ctx context.Context, store *storage.MemoryStore, userID, voucherID, orderID int64) error {
	return store.Append(ctx, map[string]string{
		"id":        fmt.Sprint(orderID),
		"userId":    fmt.Sprint(userID),
		"voucherId": fmt.Sprint(voucherID),
	})
}
