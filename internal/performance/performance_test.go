package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BenchmarkWorkerPool benchmarks the worker pool performance.
func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		pool.Submit(func() {
			time.Sleep(time.Microsecond)
			wg.Done()
		})
		wg.Wait()
	}
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, pool.Submit(func() { ran.Add(1) }))
	}
	pool.Stop()

	assert.Equal(t, int32(10), ran.Load())
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Stop()

	assert.False(t, pool.Submit(func() {}))
}

func TestForEach_VisitsEveryIndex(t *testing.T) {
	const n = 500
	var seen [n]atomic.Bool

	ForEach(context.Background(), 4, n, func(ctx context.Context, i int) {
		seen[i].Store(true)
	})

	for i := 0; i < n; i++ {
		assert.True(t, seen[i].Load(), "index %d not visited", i)
	}
}

func TestForEach_BoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32

	ForEach(context.Background(), 3, 30, func(ctx context.Context, i int) {
		c := current.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestForEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	ForEach(ctx, 2, 10, func(ctx context.Context, i int) { ran.Add(1) })

	assert.Equal(t, int32(0), ran.Load())
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	var handled atomic.Int32
	pool := NewWorkerPool(1, WithPanicHandler(func(pe *PanicError) {
		assert.Contains(t, pe.Error(), "boom")
		handled.Add(1)
	}))
	pool.Start()

	require.True(t, pool.Submit(func() { panic("boom") }))

	var ran atomic.Bool
	require.True(t, pool.Submit(func() { ran.Store(true) }))
	pool.Stop()

	assert.True(t, ran.Load(), "worker survives a panic")
	assert.Equal(t, int32(1), handled.Load())
}

func TestForEach_IsolatesPanics(t *testing.T) {
	var ran atomic.Int32
	res := ForEach(context.Background(), 2, 6, func(ctx context.Context, i int) {
		if i == 3 {
			panic("bad task")
		}
		ran.Add(1)
	})

	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, 6, res.Started)
	require.Len(t, res.Panics, 1)
	assert.Equal(t, "bad task", res.Panics[3].Value)
}
