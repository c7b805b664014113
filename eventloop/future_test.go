package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFuture_ResolvesOnce(t *testing.T) {
	f := NewFuture[int]()
	require.False(t, f.Resolved())

	require.True(t, f.Resolve(1))
	require.False(t, f.Resolve(2))
	require.False(t, f.Reject(errors.New("late")))

	v, err := f.Result()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.True(t, f.Resolved())
}

func TestFuture_WaitReleasesAllWaiters(t *testing.T) {
	f := NewFuture[struct{}]()

	const waiters = 4
	released := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := f.Wait(context.Background())
			if err == nil {
				released <- struct{}{}
			}
		}()
	}

	f.Resolve(struct{}{})
	for i := 0; i < waiters; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d not released", i)
		}
	}
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
