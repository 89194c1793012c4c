package cache

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewRebuildPool(3, 16, nil)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { ran.Add(1) }))
	}
	p.Close() // waits for queued tasks
	assert.Equal(t, int32(10), ran.Load())
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	p := NewRebuildPool(1, 1, nil)
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))
	require.NoError(t, p.Submit(func() {})) // fills the queue

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolSaturated)
	close(block)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := NewRebuildPool(1, 1, nil)
	p.Close()
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	p.Close() // idempotent
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewRebuildPool(1, 4, nil)
	defer p.Close()

	require.NoError(t, p.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	<-done
}
