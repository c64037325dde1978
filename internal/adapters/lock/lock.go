// Package lock provides per-key mutual exclusion for rank recomputation.
//
// LocalLocker serializes callers inside one process. RedisLocker extends the
// same guarantee across replicas sharing a Redis instance.
package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// ErrNotHeld is returned when a lease expired before it was released.
var ErrNotHeld = errors.New("lock not held")

// Release gives the lock back. Calling it more than once is a no-op.
type Release func()

// Locker acquires exclusive access to a key. Acquire blocks until the key is
// free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// LocalLocker is an in-process Locker with one slot per key.
type LocalLocker struct {
	slots *xsync.Map[string, chan struct{}]
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: xsync.NewMap[string, chan struct{}]()}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	slot, _ := l.slots.LoadOrStore(key, make(chan struct{}, 1))

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
