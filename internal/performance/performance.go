// Package performance provides the bounded worker pool used by batch jobs.
package performance

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// PanicError carries a value recovered from a task.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
// A panicking task is recovered and reported through the panic handler;
// the worker keeps serving the queue.
type WorkerPool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	running   atomic.Bool
	onPanic   func(*PanicError)
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPanicHandler is called, on the worker goroutine, for every recovered panic.
func WithPanicHandler(fn func(*PanicError)) PoolOption {
	return func(p *WorkerPool) { p.onPanic = fn }
}

// WithQueueSize overrides the default queue capacity of workers*100.
func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.taskQueue = make(chan func(), n)
		}
	}
}

// NewWorkerPool creates a pool. Zero workers means runtime.NumCPU().
func NewWorkerPool(workers int, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*100),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	if p.running.Swap(true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.onPanic != nil {
				p.onPanic(&PanicError{Value: r})
			}
		}
	}()
	task()
}

// Submit queues a task. It returns false when the pool is stopped or the
// queue is full.
func (p *WorkerPool) Submit(task func()) bool {
	if !p.running.Load() {
		return false
	}
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop drains the queue and waits for the workers. Submit must not race with Stop.
func (p *WorkerPool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// BatchResult summarises one ForEach call.
type BatchResult struct {
	Started int
	// Panics maps the index of every item that panicked to the recovered value.
	Panics map[int]*PanicError
}

// ForEach runs fn for every index in [0, n) with at most workers items in
// flight and waits for all of them. A cancelled context stops further items
// from starting. A panic in one item is recovered and recorded; the other
// items still run.
func ForEach(ctx context.Context, workers, n int, fn func(ctx context.Context, i int)) BatchResult {
	res := BatchResult{}
	if n == 0 {
		return res
	}
	if workers <= 0 || workers > n {
		workers = n
	}

	var mu sync.Mutex
	record := func(i int, pe *PanicError) {
		mu.Lock()
		defer mu.Unlock()
		if res.Panics == nil {
			res.Panics = make(map[int]*PanicError)
		}
		res.Panics[i] = pe
	}

	pool := NewWorkerPool(workers, WithQueueSize(n))
	pool.Start()

	var started atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			started.Add(1)
			defer func() {
				if r := recover(); r != nil {
					record(i, &PanicError{Value: r})
				}
			}()
			fn(ctx, i)
		}
		if !pool.Submit(task) {
			task()
		}
	}
	wg.Wait()
	pool.Stop()

	res.Started = int(started.Load())
	return res
}
