package contract

import (
	"context"
	"time"
)

// RunLock is an optional per-subject mutual exclusion for runs. The default
// deployment relies on the status-flag grace window alone.
type RunLock interface {
	// Acquire returns false without error when the key is already held.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release only drops the key while owner still holds it. A lock that
	// expired and was taken by another run is left alone.
	Release(ctx context.Context, key, owner string) error
}
