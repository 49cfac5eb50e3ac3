package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradeterm/src/model"
)

func testTrade(i int) model.ExecutedTrade {
	return model.ExecutedTrade{
		Time:     time.Date(2024, 5, 1, 12, 0, i, 0, time.UTC),
		Account:  model.ProfilePhemexFutures,
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Price:    50000 + float64(i),
		Quantity: 1,
	}
}

func TestAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	log, err := Open(path, 100)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(testTrade(i)))
	}

	trades, err := log.Recent(0)
	require.NoError(t, err)
	require.Len(t, trades, 5)
	require.Equal(t, 50000.0, trades[0].Price)
	require.Equal(t, 50004.0, trades[4].Price)
	require.Equal(t, "BTCUSDT", trades[0].Symbol)
}

func TestCountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")

	log, err := Open(path, 100)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, log.Append(testTrade(i)))
	}
	require.NoError(t, log.Close())

	reopened, err := Open(path, 100)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 7, reopened.Count())
}

func TestCompactionKeepsMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	max := 10
	log, err := Open(path, max)
	require.NoError(t, err)
	defer log.Close()

	total := max + compactSlack + 1
	for i := 0; i < total; i++ {
		require.NoError(t, log.Append(testTrade(i)))
	}

	require.Equal(t, max, log.Count())

	trades, err := log.Recent(0)
	require.NoError(t, err)
	require.Len(t, trades, max)

	// The survivors are the newest records, still in order.
	for i, trade := range trades {
		wantPrice := 50000 + float64(total-max+i)
		if trade.Price != wantPrice {
			t.Fatalf("record %d: price = %v, want %v", i, trade.Price, wantPrice)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	log, err := Open(path, 100)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 9; i++ {
		require.NoError(t, log.Append(testTrade(i)))
	}

	trades, err := log.Recent(3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.Equal(t, 50006.0, trades[0].Price)
}

func TestOpenRejectsBadRetention(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "x.jsonl"), 0); err == nil {
		t.Fatal("expected error for non-positive retention")
	}
}

func TestAppendAfterCompactionContinues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	max := 5
	log, err := Open(path, max)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < max+compactSlack+1; i++ {
		require.NoError(t, log.Append(testTrade(i)))
	}
	require.NoError(t, log.Append(testTrade(999)))

	trades, err := log.Recent(1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, fmt.Sprintf("%.0f", 50999.0), fmt.Sprintf("%.0f", trades[0].Price))
}
