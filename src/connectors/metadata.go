package connectors

import (
	"context"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"
)

// MarketMeta is the per-symbol exchange metadata needed for order sizing.
type MarketMeta struct {
	Symbol       string
	ContractSize float64
	TickSize     float64
	LotSize      float64
	SettleAsset  string
	PricePrec    int
	QtyPrec      int
}

// MetaFetchFunc loads the full metadata table for one exchange base URL.
type MetaFetchFunc func(ctx context.Context) (map[string]MarketMeta, error)

type metaEntry struct {
	table    map[string]MarketMeta
	loaded   bool
	inFlight bool
	waiters  []chan metaResult
}

type metaResult struct {
	table map[string]MarketMeta
	err   error
}

// MetaCache is the process-wide market-metadata cache keyed by base URL.
// Concurrent callers for the same base URL coalesce into a single fetch via
// an in-flight flag plus a waiter list.
type MetaCache struct {
	mu      sync.Mutex
	entries map[string]*metaEntry
}

func NewMetaCache() *MetaCache {
	return &MetaCache{entries: make(map[string]*metaEntry)}
}

// Lookup returns the metadata for (baseURL, symbol), fetching the table on
// first use. Callers arriving while a fetch is in flight wait for its result
// instead of issuing their own request.
func (m *MetaCache) Lookup(ctx context.Context, baseURL, symbol string, fetch MetaFetchFunc) (MarketMeta, error) {
	m.mu.Lock()
	entry, ok := m.entries[baseURL]
	if !ok {
		entry = &metaEntry{}
		m.entries[baseURL] = entry
	}

	if entry.loaded {
		meta, ok := entry.table[symbol]
		m.mu.Unlock()
		if !ok {
			return MarketMeta{}, fmt.Errorf("no market metadata for %s at %s", symbol, baseURL)
		}
		return meta, nil
	}

	if entry.inFlight {
		ch := make(chan metaResult, 1)
		entry.waiters = append(entry.waiters, ch)
		m.mu.Unlock()

		select {
		case res := <-ch:
			if res.err != nil {
				return MarketMeta{}, res.err
			}
			meta, ok := res.table[symbol]
			if !ok {
				return MarketMeta{}, fmt.Errorf("no market metadata for %s at %s", symbol, baseURL)
			}
			return meta, nil
		case <-ctx.Done():
			return MarketMeta{}, ctx.Err()
		}
	}

	entry.inFlight = true
	m.mu.Unlock()

	table, err := fetch(ctx)

	m.mu.Lock()
	entry.inFlight = false
	var waiters []chan metaResult
	waiters, entry.waiters = entry.waiters, nil
	if err == nil {
		entry.table = table
		entry.loaded = true
	}
	m.mu.Unlock()

	for _, ch := range waiters {
		ch <- metaResult{table: table, err: err}
	}

	if err != nil {
		logger.WithError(err).WithField("base_url", baseURL).Error("market metadata fetch failed")
		return MarketMeta{}, fmt.Errorf("fetch market metadata: %w", err)
	}
	meta, ok := table[symbol]
	if !ok {
		return MarketMeta{}, fmt.Errorf("no market metadata for %s at %s", symbol, baseURL)
	}
	return meta, nil
}

// Invalidate drops the cached table for a base URL.
func (m *MetaCache) Invalidate(baseURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[baseURL]; ok && !entry.inFlight {
		delete(m.entries, baseURL)
	}
}
