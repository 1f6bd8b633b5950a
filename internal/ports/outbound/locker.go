package outbound

import "context"

// Lease is a held lock. Release is safe against double release and against a
// lease that already expired or was taken over; in both cases it is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion keyed by an arbitrary string, with bounded
// acquisition retry and automatic expiry. Exhausting the retry budget
// surfaces shared.ErrLockTimeout, which signals contention rather than a
// fatal condition.
//
// The lock only serializes the placement critical section; the store's
// version checks remain the authoritative consistency mechanism even if a
// lease expires mid-operation.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}
