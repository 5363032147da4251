package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/common"
)

// lockers returns each implementation with a function that advances its clock.
func lockers(t *testing.T) map[string]struct {
	l       Locker
	advance func(time.Duration)
} {
	t.Helper()

	now := time.Now()
	var mu sync.Mutex
	mem := NewMemory().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]struct {
		l       Locker
		advance func(time.Duration)
	}{
		"memory": {mem, func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }},
		"redis":  {NewRedis(client, "test:"), mr.FastForward},
	}
}

func TestLocker_Contract(t *testing.T) {
	for name, tc := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New()

			tok, err := tc.l.Acquire(ctx, id, time.Minute)
			require.NoError(t, err)
			require.NotEmpty(t, tok)

			_, err = tc.l.Acquire(ctx, id, time.Minute)
			assert.ErrorIs(t, err, common.ErrAlreadyActive)

			holder, ok, err := tc.l.Holder(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tok, holder)

			assert.ErrorIs(t, tc.l.Refresh(ctx, id, "someone-else", time.Minute), ErrNotHeld)
			assert.ErrorIs(t, tc.l.Release(ctx, id, "someone-else"), ErrNotHeld)
			require.NoError(t, tc.l.Refresh(ctx, id, tok, time.Minute))

			require.NoError(t, tc.l.Release(ctx, id, tok))
			_, ok, err = tc.l.Holder(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			tok2, err := tc.l.Acquire(ctx, id, time.Minute)
			require.NoError(t, err)
			assert.NotEqual(t, tok, tok2)
		})
	}
}

func TestLocker_Expiry(t *testing.T) {
	for name, tc := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New()

			tok, err := tc.l.Acquire(ctx, id, time.Second)
			require.NoError(t, err)

			tc.advance(2 * time.Second)

			assert.ErrorIs(t, tc.l.Refresh(ctx, id, tok, time.Second), ErrNotHeld)
			_, err = tc.l.Acquire(ctx, id, time.Second)
			assert.NoError(t, err)
		})
	}
}

func TestMemory_ConcurrentAcquireHasOneWinner(t *testing.T) {
	l := NewMemory()
	id := uuid.New()

	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire(context.Background(), id, time.Minute)
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, common.ErrAlreadyActive) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(31), busy.Load())
}
