package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_AcquireRelease(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "evolve", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "evolve", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	_, ok, _ = l.Acquire(ctx, "update_prices", time.Minute)
	assert.True(t, ok, "different names are independent")

	release()
	_, ok, _ = l.Acquire(ctx, "evolve", time.Minute)
	assert.True(t, ok, "lock is free after release")
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	stale, ok, _ := l.Acquire(context.Background(), "job", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	require.True(t, ok, "expired lock can be taken over")

	// Releasing the stale holder must not free the new holder's lock.
	stale()
	_, ok, _ = l.Acquire(context.Background(), "job", time.Minute)
	assert.False(t, ok)
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := NewLocalLocker().Acquire(ctx, "job", time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLocker_WrapKey(t *testing.T) {
	assert.Equal(t, "newstrace:lock:evolve", (&RedisLocker{prefix: "newstrace"}).wrapKey("evolve"))
	assert.Equal(t, "lock:evolve", (&RedisLocker{}).wrapKey("evolve"))
}

// Property: concurrent acquirers of one name never both hold it.
func TestProperty_LocalLockerMutualExclusion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one goroutine holds the lock", prop.ForAll(
		func(goroutines int) bool {
			l := NewLocalLocker()
			var holders, violations atomic.Int32
			var wg sync.WaitGroup

			for i := 0; i < goroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, ok, err := l.Acquire(context.Background(), "job", time.Minute)
					if err != nil || !ok {
						return
					}
					if holders.Add(1) > 1 {
						violations.Add(1)
					}
					holders.Add(-1)
					release()
				}()
			}
			wg.Wait()
			return violations.Load() == 0
		},
		gen.IntRange(2, 32),
	))

	properties.TestingRun(t)
}
