package nonce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// N concurrent reservations against an uninitialized cursor must result in
// exactly one network refresh and N distinct, strictly increasing nonces in
// request order.
func TestReserveCoalescesSingleRefresh(t *testing.T) {
	const n = 16

	var fetches atomic.Int32
	release := make(chan struct{})
	seq := NewSequencer(func(ctx context.Context) (uint64, error) {
		fetches.Add(1)
		<-release
		return 100, nil
	})

	results := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := seq.Reserve(context.Background())
			require.NoError(t, err)
			results[i] = got
		}(i)
		// Give each goroutine time to enqueue so FIFO order matches launch order.
		time.Sleep(2 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	require.EqualValues(t, 1, fetches.Load(), "expected exactly one refresh round-trip")
	for i, got := range results {
		require.EqualValues(t, 100+uint64(i), got, "waiter %d nonce", i)
	}
}

func TestReserveSynchronousWhenKnown(t *testing.T) {
	var fetches atomic.Int32
	seq := NewSequencer(func(ctx context.Context) (uint64, error) {
		fetches.Add(1)
		return 7, nil
	})

	first, err := seq.Reserve(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, first)

	// Cursor is now known: no further fetches.
	for i := uint64(8); i < 12; i++ {
		got, err := seq.Reserve(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, i, got)
	}
	require.EqualValues(t, 1, fetches.Load())
}

func TestRefreshFailureResetsAndErrorsAllWaiters(t *testing.T) {
	calls := atomic.Int32{}
	seq := NewSequencer(func(ctx context.Context) (uint64, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 50, nil
	})

	_, err := seq.Reserve(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.False(t, seq.Known())

	// Next call re-fetches and succeeds.
	got, err := seq.Reserve(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 50, got)
	require.EqualValues(t, 2, calls.Load())
}

func TestInvalidateForcesResync(t *testing.T) {
	var fetches atomic.Int32
	seq := NewSequencer(func(ctx context.Context) (uint64, error) {
		fetches.Add(1)
		return 200 * uint64(fetches.Load()), nil
	})

	_, err := seq.Reserve(context.Background())
	require.NoError(t, err)

	seq.Invalidate()
	require.False(t, seq.Known())

	got, err := seq.Reserve(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 400, got)
	require.EqualValues(t, 2, fetches.Load())
}
