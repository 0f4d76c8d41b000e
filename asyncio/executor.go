// Package asyncio is the async I/O executor (spec component C2): a
// single-threaded cooperative task scheduler with registered buffer pools
// and deadline/cancellation primitives.
//
// Go has no user-mode fibers with an explicit stack to suspend, so the
// cooperative-fiber model of §4.2 is realized the way §9's "coroutine
// translation" note prescribes: one owning goroutine pinned to its OS
// thread via runtime.LockOSThread, with suspension modeled as a blocking
// channel receive rather than a real stack switch, and cross-thread
// invocation realized as a buffered function channel drained only by the
// owning goroutine.
package asyncio

import (
	"context"
	"runtime"
	"time"

	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/internal/observability"
)

// ReadResult is the completion value of an asynchronous chunk read.
type ReadResult struct {
	Data []byte
	Err  error
}

// Executor is the per-engine-instance owning-thread task scheduler.
type Executor struct {
	invoke  chan func()
	closeCh chan struct{}
	done    chan struct{}

	readBufs  *BufferPool
	writeBufs *BufferPool

	stats Stats
	log   *observability.Logger
}

// NewExecutor starts the owning goroutine and returns a handle to it. readSlots
// and writeSlots size the registered buffer pools (§4.2).
func NewExecutor(readSlots, writeSlots int) *Executor {
	e := &Executor{
		invoke:    make(chan func(), 256),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
		readBufs:  NewBufferPool(ReadBufferSize, readSlots),
		writeBufs: NewBufferPool(WriteBufferSize, writeSlots),
		log:       observability.New("component", "asyncio"),
	}
	go e.run()
	return e
}

// run is the owning goroutine's loop; it is the only goroutine that ever
// dequeues from invoke, giving every callback run-to-completion semantics
// on a single logical thread, matching §5's "Executor thread" rule.
func (e *Executor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	for {
		select {
		case fn := <-e.invoke:
			fn()
		case <-e.closeCh:
			// Drain any already-queued callbacks before exiting so a
			// shutdown does not silently drop completions.
			for {
				select {
				case fn := <-e.invoke:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close stops the owning goroutine once its queue drains.
func (e *Executor) Close() {
	close(e.closeCh)
	<-e.done
}

// Invoke schedules fn to run on the owning goroutine — the "thread-safe
// invocation" primitive from §4.2, usable by foreign threads.
func (e *Executor) Invoke(fn func()) {
	e.invoke <- fn
}

// InvokeTimed schedules fn to run on the owning goroutine no sooner than d
// from now — the "timed invocation" primitive from §4.2.
func (e *Executor) InvokeTimed(d time.Duration, fn func()) {
	e.stats.InflightTimers.Add(1)
	time.AfterFunc(d, func() {
		e.stats.InflightTimers.Add(-1)
		e.Invoke(fn)
	})
}

// SubmitRead issues an asynchronous read of (chunkID, offset, length) from
// pool, completing on the owning goroutine via the returned channel.
// Completions on a single task are observed in submission order because
// each call owns its own buffered channel and the underlying read runs on
// a dedicated goroutine that posts its result back through Invoke, which
// the owning goroutine drains FIFO.
func (e *Executor) SubmitRead(ctx context.Context, pool *chunkpool.Pool, chunkID uint32, offset chunkpool.Offset, length int) <-chan ReadResult {
	result := make(chan ReadResult, 1)
	e.stats.InflightReads.Add(1)
	e.stats.ReadsIssued.Add(1)

	go func() {
		defer e.stats.InflightReads.Add(-1)
		buf, err := e.readBufs.Acquire(ctx)
		if err != nil {
			e.Invoke(func() { result <- ReadResult{Err: err} })
			return
		}
		defer e.readBufs.Release(buf)

		data, err := pool.Read(chunkID, offset, length)
		if err != nil {
			e.stats.ReadsRetried.Add(1)
		}
		e.Invoke(func() { result <- ReadResult{Data: data, Err: err} })
	}()

	return result
}

// WriteResult is the completion value of an asynchronous chunk append.
type WriteResult struct {
	Offset chunkpool.Offset
	Err    error
}

// SubmitWrite issues an asynchronous append of data to chunkID, completing
// on the owning goroutine. Back-pressure is enforced by the write buffer
// pool's semaphore: when exhausted, this call blocks until a slot frees or
// ctx is canceled (§4.2, §4.4.3).
func (e *Executor) SubmitWrite(ctx context.Context, pool *chunkpool.Pool, chunkID uint32, data []byte) <-chan WriteResult {
	result := make(chan WriteResult, 1)
	e.stats.InflightWrites.Add(1)

	go func() {
		defer e.stats.InflightWrites.Add(-1)
		buf, err := e.writeBufs.Acquire(ctx)
		if err != nil {
			e.Invoke(func() { result <- WriteResult{Err: err} })
			return
		}
		defer e.writeBufs.Release(buf)

		off, err := pool.Append(chunkID, data)
		e.Invoke(func() { result <- WriteResult{Offset: off, Err: err} })
	}()

	return result
}

// Stats returns a point-in-time snapshot of the executor's IORecord-style
// counters.
func (e *Executor) Stats() Snapshot { return e.stats.snapshot() }
