package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/planet42129/hdmp-redis/internal/port"
)

// MemoryStore is a process-local implementation of the cache-tier ports with
// the same observable semantics as the Redis adapter: lazy key expiry,
// conditional set, atomic reservation and a consumer-group log with a pending
// list. It backs unit tests and local development; it offers no durability
// and no cross-process sharing.
type MemoryStore struct {
	mu      sync.Mutex
	kv      map[string]memoryValue
	members map[string]map[string]bool
	stream  []port.LogEntry
	nextID  int64
	groups  map[string]*memoryGroup
}

type memoryValue struct {
	data     []byte
	deadline time.Time // zero means no expiry
}

type memoryGroup struct {
	cursor  int
	pending map[string][]port.LogEntry // per consumer, delivery order
}

var (
	_ port.CacheStore     = (*MemoryStore)(nil)
	_ port.AdmissionStore = (*MemoryStore)(nil)
	_ port.OrderLog       = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:      make(map[string]memoryValue),
		members: make(map[string]map[string]bool),
		groups:  make(map[string]*memoryGroup),
	}
}

func (s *MemoryStore) live(key string) ([]byte, bool) {
	v, ok := s.kv[key]
	if !ok {
		return nil, false
	}
	if !v.deadline.IsZero() && time.Now().After(v.deadline) {
		delete(s.kv, key)
		return nil, false
	}
	return v.data, true
}

func deadlineFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(value))
	copy(data, value)
	s.kv[key] = memoryValue{data: data, deadline: deadlineFor(ttl)}
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	data := make([]byte, len(value))
	copy(data, value)
	s.kv[key] = memoryValue{data: data, deadline: deadlineFor(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expect string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.live(key)
	if !ok || string(data) != expect {
		return false, nil
	}
	delete(s.kv, key)
	return true, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if data, ok := s.live(key); ok {
		parsed, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("increment non-integer value at %s", key)
		}
		n = parsed
	}
	n++
	s.kv[key] = memoryValue{data: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (s *MemoryStore) ReserveVoucher(_ context.Context, voucherID, userID, orderID int64) (port.AdmissionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stockKey := SeckillStockKeyPrefix + strconv.FormatInt(voucherID, 10)
	var stock int64
	if data, ok := s.live(stockKey); ok {
		parsed, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("non-integer stock at %s", stockKey)
		}
		stock = parsed
	}
	if stock <= 0 {
		return port.AdmissionNoStock, nil
	}

	orderKey := SeckillOrderKeyPrefix + strconv.FormatInt(voucherID, 10)
	user := strconv.FormatInt(userID, 10)
	if s.members[orderKey][user] {
		return port.AdmissionDuplicate, nil
	}

	s.kv[stockKey] = memoryValue{data: []byte(strconv.FormatInt(stock-1, 10))}
	if s.members[orderKey] == nil {
		s.members[orderKey] = make(map[string]bool)
	}
	s.members[orderKey][user] = true

	s.nextID++
	s.stream = append(s.stream, port.LogEntry{
		ID: fmt.Sprintf("%d-0", s.nextID),
		Values: map[string]string{
			"userId":    user,
			"voucherId": strconv.FormatInt(voucherID, 10),
			"id":        strconv.FormatInt(orderID, 10),
		},
	})
	return port.AdmissionAccepted, nil
}

func (s *MemoryStore) SetStock(ctx context.Context, voucherID int64, stock int) error {
	return s.Set(ctx, SeckillStockKeyPrefix+strconv.FormatInt(voucherID, 10),
		[]byte(strconv.Itoa(stock)), 0)
}

// Append writes an arbitrary entry to the log, bypassing the reservation
// path. Tests use it to stage redelivered or malformed entries.
func (s *MemoryStore) Append(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.stream = append(s.stream, port.LogEntry{
		ID:     fmt.Sprintf("%d-0", s.nextID),
		Values: values,
	})
	return nil
}

func (s *MemoryStore) EnsureGroup(_ context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memoryGroup{pending: make(map[string][]port.LogEntry)}
	}
	return nil
}

func (s *MemoryStore) ReadNew(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]port.LogEntry, error) {
	deadline := time.Now().Add(block)
	for {
		s.mu.Lock()
		g, ok := s.groups[group]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("consumer group %q does not exist", group)
		}
		if g.cursor < len(s.stream) {
			n := len(s.stream) - g.cursor
			if count > 0 && int64(n) > count {
				n = int(count)
			}
			entries := make([]port.LogEntry, n)
			copy(entries, s.stream[g.cursor:g.cursor+n])
			g.cursor += n
			g.pending[consumer] = append(g.pending[consumer], entries...)
			s.mu.Unlock()
			return entries, nil
		}
		s.mu.Unlock()

		if block <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) ReadPending(_ context.Context, group, consumer string, count int64) ([]port.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("consumer group %q does not exist", group)
	}
	pending := g.pending[consumer]
	n := len(pending)
	if count > 0 && int64(n) > count {
		n = int(count)
	}
	entries := make([]port.LogEntry, n)
	copy(entries, pending[:n])
	return entries, nil
}

func (s *MemoryStore) Ack(_ context.Context, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[group]
	if !ok {
		return fmt.Errorf("consumer group %q does not exist", group)
	}
	acked := make(map[string]bool, len(ids))
	for _, id := range ids {
		acked[id] = true
	}
	for consumer, pending := range g.pending {
		kept := pending[:0]
		for _, e := range pending {
			if !acked[e.ID] {
				kept = append(kept, e)
			}
		}
		g.pending[consumer] = kept
	}
	return nil
}
