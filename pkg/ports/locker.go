package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Lease.Refresh once the lease expired or another holder took the key.
var ErrLeaseLost = errors.New("lease lost")

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates session access across replicas that share a store.
type DistributedLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is canceled.
	// The lock expires after ttl if never released.
	// The returned UnlockFunc MUST be called to release it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Lease is a lock held for longer than one ttl and kept alive with Refresh.
type Lease interface {
	// Refresh extends the lease by ttl, or returns ErrLeaseLost.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the key up. Releasing a lost lease is a no-op.
	Release(ctx context.Context) error
}

// LeaseLocker is a DistributedLocker that also hands out renewable leases.
type LeaseLocker interface {
	DistributedLocker

	// Acquire blocks like Lock and returns the held lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
