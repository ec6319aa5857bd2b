package memory

import (
	"context"
	"sync"
	"time"

	"wordware-roast-be/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

// RunLock keeps run locks in process memory. Only useful for a single
// instance deployment.
type RunLock struct {
	mu    sync.Mutex
	cache *cache.Cache
}

var _ contract.RunLock = &RunLock{}

func NewRunLock() *RunLock {
	// Entries carry their own TTL; purge expired ones every minute
	c := cache.New(cache.NoExpiration, time.Minute)
	return &RunLock{
		cache: c,
	}
}

// Acquire relies on cache.Add failing when an unexpired item exists.
func (l *RunLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := l.cache.Add(key, owner, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *RunLock) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.cache.Get(key)
	if !ok || held.(string) != owner {
		return nil
	}
	l.cache.Delete(key)
	return nil
}

// NoopRunLock always grants the lock.
type NoopRunLock struct{}

var _ contract.RunLock = NoopRunLock{}

func (NoopRunLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopRunLock) Release(ctx context.Context, key, owner string) error { return nil }
