// Package lock serializes reconciliation runs across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked is returned by TryLock when another holder owns the lock.
	ErrLocked = errors.New("lock held by another run")
	// ErrLeaseLost is returned by Extend once the lease expired or was taken
	// over by another holder.
	ErrLeaseLost = errors.New("lock lease lost")
)

type Lease interface {
	// Extend resets the lease expiry to ttl from now.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive, non-blocking leases on a named lock. The ttl
// bounds how long a crashed holder can keep the lock where the backend
// supports expiry.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}
