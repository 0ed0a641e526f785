package inflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRejectsConcurrentAcquire(t *testing.T) {
	set := NewMemory(time.Minute)
	ctx := context.Background()

	release, err := set.Acquire(ctx, Key("sheet-1", "user-1"))
	require.NoError(t, err)

	_, err = set.Acquire(ctx, "sheet-1:user-1")
	require.ErrorIs(t, err, ErrInFlight)

	_, err = set.Acquire(ctx, Key("sheet-1", "user-2"))
	require.NoError(t, err)

	release()
	release()

	again, err := set.Acquire(ctx, "sheet-1:user-1")
	require.NoError(t, err)
	again()
}

func TestMemoryKeysExpire(t *testing.T) {
	set := NewMemory(time.Second)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	set.now = func() time.Time { return now }

	stale, err := set.Acquire(context.Background(), "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	fresh, err := set.Acquire(context.Background(), "k")
	require.NoError(t, err)

	stale()
	_, err = set.Acquire(context.Background(), "k")
	require.ErrorIs(t, err, ErrInFlight, "stale release must not free the new holder")

	fresh()
	assert.Equal(t, 0, set.Len())
}

func TestMemorySingleWinnerUnderContention(t *testing.T) {
	set := NewMemory(time.Minute)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := set.Acquire(context.Background(), "same"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
