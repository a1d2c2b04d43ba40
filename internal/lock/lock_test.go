package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	m := NewMemoryLock()
	m.now = func() time.Time { return now }

	token, ok, err := m.TryLock(ctx, "booking:10:2025-03-03", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "booking:10:2025-03-03", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock")

	_, ok, err = m.TryLock(ctx, "booking:10:2025-03-04", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "another date is independent")

	require.NoError(t, m.Unlock(ctx, "booking:10:2025-03-03", "someone-else"))
	_, ok, _ = m.TryLock(ctx, "booking:10:2025-03-03", time.Second)
	assert.False(t, ok, "foreign token must not release the lock")

	require.NoError(t, m.Unlock(ctx, "booking:10:2025-03-03", token))
	_, ok, _ = m.TryLock(ctx, "booking:10:2025-03-03", time.Second)
	assert.True(t, ok)

	// expired locks are taken over
	_, ok, _ = m.TryLock(ctx, "expiring", time.Second)
	require.True(t, ok)
	now = now.Add(2 * time.Second)
	_, ok, _ = m.TryLock(ctx, "expiring", time.Second)
	assert.True(t, ok)
}

// flakyLocker отказывает первые n попыток
type flakyLocker struct {
	busy  int32
	calls atomic.Int32
	err   error
}

func (f *flakyLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", false, f.err
	}
	if n <= f.busy {
		return "", false, nil
	}
	return "token", true, nil
}

func (f *flakyLocker) Unlock(context.Context, string, string) error {
	return nil
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	opts := Options{TTL: time.Second, Attempts: 5, Delay: time.Millisecond}

	t.Run("waits for release", func(t *testing.T) {
		l := &flakyLocker{busy: 3}
		release, err := Acquire(ctx, l, "k", opts)
		require.NoError(t, err)
		release()
		assert.Equal(t, int32(4), l.calls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		l := &flakyLocker{busy: 100}
		_, err := Acquire(ctx, l, "k", opts)
		assert.ErrorIs(t, err, ErrNotAcquired)
		assert.Equal(t, int32(6), l.calls.Load())
	})

	t.Run("backend error is not retried", func(t *testing.T) {
		l := &flakyLocker{err: errors.New("redis: connection refused")}
		_, err := Acquire(ctx, l, "k", opts)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAcquired)
		assert.Equal(t, int32(1), l.calls.Load())
	})

	t.Run("serializes holders", func(t *testing.T) {
		m := NewMemoryLock()
		release, err := Acquire(ctx, m, "k", opts)
		require.NoError(t, err)

		_, err = Acquire(ctx, m, "k", Options{TTL: time.Second, Attempts: 2, Delay: time.Millisecond})
		assert.ErrorIs(t, err, ErrNotAcquired)

		release()
		release2, err := Acquire(ctx, m, "k", opts)
		require.NoError(t, err)
		release2()
	})
}
