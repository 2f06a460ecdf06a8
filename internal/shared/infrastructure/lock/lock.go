// Package lock provides keyed mutual exclusion across reconcile calls.
package lock

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a lock could not be acquired in time.
	ErrTimeout = errors.New("lock wait timed out")
	// ErrUnavailable is returned when the lock backend cannot be reached.
	ErrUnavailable = errors.New("lock backend unavailable")
)

// Locker acquires an exclusive lock on key. The returned func releases it
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
