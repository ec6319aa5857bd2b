package redislock

import (
	"context"
	"fmt"
	"time"

	"wordware-roast-be/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wordware:run:"

// Deletes KEYS[1] only while it still holds the caller's owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock shares run locks between instances through Redis SET NX.
type RunLock struct {
	rdb *redis.Client
}

var _ contract.RunLock = &RunLock{}

func NewRunLock(rdb *redis.Client) *RunLock {
	return &RunLock{rdb: rdb}
}

func (l *RunLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, keyPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RunLock) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{keyPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("release run lock %s: %w", key, err)
	}
	return nil
}
