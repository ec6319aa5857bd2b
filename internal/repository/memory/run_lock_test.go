package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock(t *testing.T) {
	ctx := context.Background()
	l := NewRunLock()

	ok, err := l.Acquire(ctx, "alice:free", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "alice:free", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = l.Acquire(ctx, "alice:paid", "run-2", time.Minute)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "alice:free", "run-1"))
	ok, _ = l.Acquire(ctx, "alice:free", "run-3", time.Minute)
	assert.True(t, ok)
}

func TestRunLock_ReleaseKeepsOtherOwner(t *testing.T) {
	ctx := context.Background()
	l := NewRunLock()

	ok, _ := l.Acquire(ctx, "alice:free", "run-1", time.Minute)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "alice:free", "run-2"))
	ok, _ = l.Acquire(ctx, "alice:free", "run-3", time.Minute)
	assert.False(t, ok, "a non-owner release must not drop the lock")
}

func TestRunLock_ExpiredOwnerCannotReleaseSuccessor(t *testing.T) {
	ctx := context.Background()
	l := NewRunLock()

	ok, _ := l.Acquire(ctx, "bob:free", "slow-run", 20*time.Millisecond)
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)

	ok, _ = l.Acquire(ctx, "bob:free", "next-run", time.Minute)
	require.True(t, ok)

	// The slow run finishes late and releases; the successor keeps the key.
	require.NoError(t, l.Release(ctx, "bob:free", "slow-run"))
	ok, _ = l.Acquire(ctx, "bob:free", "third-run", time.Minute)
	assert.False(t, ok)
}

func TestNoopRunLock(t *testing.T) {
	ok, err := NoopRunLock{}.Acquire(context.Background(), "k", "run-1", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, NoopRunLock{}.Release(context.Background(), "k", "run-1"))
}
