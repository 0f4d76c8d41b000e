package asyncio

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registered buffer sizes from §4.2: read buffers are a handful of device
// pages, write buffers are large slab allocations.
const (
	ReadBufferSize  = 8 * 4096      // ~8 device pages
	WriteBufferSize = 8 * 1024 * 1024 // ~8 MiB
)

// BufferPool is a fixed-size slab pool with semaphore-enforced capacity: an
// initiator blocks the current task until a buffer frees, per §4.2's
// back-pressure rule. golang.org/x/sync/semaphore gives the weighted,
// context-cancelable acquire that rule needs; sync.Pool alone has no
// blocking-until-available behavior.
type BufferPool struct {
	size int
	sem  *semaphore.Weighted
	pool sync.Pool
}

// NewBufferPool creates a pool of slots buffers, each bufSize bytes.
func NewBufferPool(bufSize, slots int) *BufferPool {
	return &BufferPool{
		size: bufSize,
		sem:  semaphore.NewWeighted(int64(slots)),
		pool: sync.Pool{New: func() any { return make([]byte, bufSize) }},
	}
}

// Acquire blocks until a buffer is available or ctx is canceled.
func (p *BufferPool) Acquire(ctx context.Context) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	buf := p.pool.Get().([]byte)
	return buf[:p.size], nil
}

// Release returns buf to the pool and frees its semaphore slot.
func (p *BufferPool) Release(buf []byte) {
	p.pool.Put(buf[:cap(buf)])
	p.sem.Release(1)
}
