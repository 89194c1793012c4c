package cache

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed    = errors.New("cache: rebuild pool closed")
	ErrPoolSaturated = errors.New("cache: rebuild pool saturated")
)

// RebuildPool runs cache rebuild tasks on a fixed set of workers. Submit
// fails fast when the queue is full; a rejected rebuild just means the entry
// stays stale until the next read retries. Owned by the composition root:
// created at startup, Closed at teardown.
type RebuildPool struct {
	tasks  chan func()
	logger *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewRebuildPool(workers, queueSize int, logger *zap.Logger) *RebuildPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RebuildPool{
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *RebuildPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("rebuild task panicked", zap.Any("panic", r))
				}
			}()
			task()
		}()
	}
}

func (p *RebuildPool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *RebuildPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
