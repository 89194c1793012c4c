package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planet42129/hdmp-redis/internal/port"
)

func TestMemoryStore_KeyExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// SetIfAbsent treats an expired key as absent.
	set, err := s.SetIfAbsent(ctx, "k", []byte("v2"), 0)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestMemoryStore_ReserveVoucher(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, 7, 2))

	code, err := s.ReserveVoucher(ctx, 7, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, port.AdmissionAccepted, code)

	code, err = s.ReserveVoucher(ctx, 7, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, port.AdmissionDuplicate, code)

	code, err = s.ReserveVoucher(ctx, 7, 101, 3)
	require.NoError(t, err)
	assert.Equal(t, port.AdmissionAccepted, code)

	code, err = s.ReserveVoucher(ctx, 7, 102, 4)
	require.NoError(t, err)
	assert.Equal(t, port.AdmissionNoStock, code)
}

func TestMemoryStore_LogPendingLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetStock(ctx, 7, 5))
	require.NoError(t, s.EnsureGroup(ctx, "g1"))

	_, err := s.ReserveVoucher(ctx, 7, 100, 1)
	require.NoError(t, err)

	entries, err := s.ReadNew(ctx, "g1", "c1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "100", entries[0].Values["userId"])

	// Delivered but unacked: stays pending.
	pending, err := s.ReadPending(ctx, "g1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.Ack(ctx, "g1", entries[0].ID))
	pending, err = s.ReadPending(ctx, "g1", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Nothing new: blocking read returns empty after the timeout.
	entries, err = s.ReadNew(ctx, "g1", "c1", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
