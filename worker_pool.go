package slidecache

import (
	"context"
	"runtime"
	"sync"
)

// decodeJob is one unit of pool work: a task and the context it runs under.
// Keeping the context on the job lets the pool substitute a cancelled one at
// shutdown, so a queued backlog resolves as cancellations instead of
// decoding photos nobody will look at.
type decodeJob struct {
	ctx context.Context
	run func(ctx context.Context)
}

// poolClosedCtx is handed to jobs that were still queued when the pool shut
// down.
var poolClosedCtx = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// DecodePool runs decode jobs on a fixed set of goroutines. Rapid
// next/next/next navigation queues jobs, it never spawns goroutines, so
// decode parallelism stays bounded no matter how fast the user moves.
type DecodePool struct {
	workers int
	jobs    chan decodeJob
	quit    chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDecodePool creates a pool of n goroutines. n <= 0 defaults to
// GOMAXPROCS; decode work is a mix of I/O and pixel construction, so that is
// a reasonable floor. Pass the configured MaxConcurrentLoads to match the
// user-facing setting.
func NewDecodePool(n int) *DecodePool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	p := &DecodePool{
		workers: n,
		jobs:    make(chan decodeJob, n*2),
		quit:    make(chan struct{}),
	}

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *DecodePool) worker() {
	defer p.wg.Done()

	for {
		// Shutdown wins over queued work.
		select {
		case <-p.quit:
			p.flush()
			return
		default:
		}

		select {
		case <-p.quit:
			p.flush()
			return
		case job := <-p.jobs:
			job.run(job.ctx)
		}
	}
}

// flush resolves jobs stranded behind Close. Each still runs, but under a
// context that is already cancelled, so it reports a cancellation instead of
// decoding.
func (p *DecodePool) flush() {
	for {
		select {
		case job := <-p.jobs:
			job.run(poolClosedCtx)
		default:
			return
		}
	}
}

// Submit queues run to execute under ctx. It returns once the job is
// queued, not when it finishes.
//
// Error conditions:
//   - Returns ErrClosed if the pool is closed
//   - Returns the context error if ctx ends while the queue is full
func (p *DecodePool) Submit(ctx context.Context, run func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- decodeJob{ctx: ctx, run: run}:
		return nil
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size returns the number of workers.
func (p *DecodePool) Size() int {
	return p.workers
}

// Close stops the pool and waits for the workers. Jobs already queued still
// execute, under a cancelled context. Idempotent.
func (p *DecodePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
}
