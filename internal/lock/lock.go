// Package lock provides named, TTL-bounded locks so a batch job runs at most
// once at a time, either within one process or across processes via Redis.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Locker acquires named locks. When ok is false the lock is held elsewhere and
// release is nil. A held lock expires after ttl even if never released.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

func newToken() string {
	return uuid.NewString()
}
