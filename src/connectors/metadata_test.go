package connectors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Concurrent lookups against a cold cache must coalesce into one fetch and
// all be satisfied from its result.
func TestMetaCacheCoalescesConcurrentFetches(t *testing.T) {
	cache := NewMetaCache()

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (map[string]MarketMeta, error) {
		fetches.Add(1)
		<-release
		return map[string]MarketMeta{
			"BTCUSDT": {Symbol: "BTCUSDT", ContractSize: 0.001, SettleAsset: "USDT"},
		}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]MarketMeta, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Lookup(context.Background(), "https://x", "BTCUSDT", fetch)
		}(i)
	}

	// Give every goroutine time to either start the fetch or enqueue.
	waitForWaiters(t, cache, "https://x", n-1)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, fetches.Load(), "expected a single coalesced fetch")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 0.001, results[i].ContractSize)
	}

	// Warm cache: no further fetches.
	_, err := cache.Lookup(context.Background(), "https://x", "BTCUSDT", fetch)
	require.NoError(t, err)
	require.EqualValues(t, 1, fetches.Load())
}

func waitForWaiters(t *testing.T, cache *MetaCache, baseURL string, want int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		cache.mu.Lock()
		entry := cache.entries[baseURL]
		got := 0
		if entry != nil {
			got = len(entry.waiters)
		}
		cache.mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	// Coalescing still holds even if some goroutines have not enqueued yet;
	// the single-fetch assertion is what matters.
}

func TestMetaCacheFetchErrorNotCached(t *testing.T) {
	cache := NewMetaCache()

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (map[string]MarketMeta, error) {
		if fetches.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return map[string]MarketMeta{"ETHUSDT": {Symbol: "ETHUSDT", ContractSize: 1}}, nil
	}

	_, err := cache.Lookup(context.Background(), "https://y", "ETHUSDT", fetch)
	require.Error(t, err)

	meta, err := cache.Lookup(context.Background(), "https://y", "ETHUSDT", fetch)
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", meta.Symbol)
	require.EqualValues(t, 2, fetches.Load())
}

func TestMetaCacheUnknownSymbol(t *testing.T) {
	cache := NewMetaCache()
	fetch := func(ctx context.Context) (map[string]MarketMeta, error) {
		return map[string]MarketMeta{"BTCUSDT": {Symbol: "BTCUSDT"}}, nil
	}

	_, err := cache.Lookup(context.Background(), "https://z", "DOGEUSDT", fetch)
	require.Error(t, err)
}
