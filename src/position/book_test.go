package position

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradeterm/src/model"
)

func newTestBook() *Book {
	return NewBook(model.ProfileMexcFutures, nil, nil)
}

func approx(t *testing.T, want, got float64) {
	t.Helper()
	if math.Abs(want-got) > 1e-9 {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestOpenThenWeightedAverage(t *testing.T) {
	b := newTestBook()

	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 1})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 110, Quantity: 1})

	pos, ok := b.Position("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, model.SideBuy, pos.Side)
	approx(t, 2, pos.Quantity)
	approx(t, 105, pos.EntryPrice)
}

// Applying the same set of same-side fills in any order must produce the same
// weighted-average entry.
func TestWeightedAverageOrderInvariance(t *testing.T) {
	fills := []Fill{
		{Symbol: "ETHUSDT", Side: model.SideBuy, Price: 2000, Quantity: 3},
		{Symbol: "ETHUSDT", Side: model.SideBuy, Price: 2100, Quantity: 1},
		{Symbol: "ETHUSDT", Side: model.SideBuy, Price: 1950, Quantity: 2},
	}

	forward := newTestBook()
	for _, f := range fills {
		forward.ApplyFill(f)
	}
	reverse := newTestBook()
	for i := len(fills) - 1; i >= 0; i-- {
		reverse.ApplyFill(fills[i])
	}

	fp, _ := forward.Position("ETHUSDT")
	rp, _ := reverse.Position("ETHUSDT")
	approx(t, fp.EntryPrice, rp.EntryPrice)
	approx(t, fp.Quantity, rp.Quantity)
}

func TestExactCloseClearsPosition(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 2, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 110, Quantity: 2, SettleAsset: "USDT"})

	_, ok := b.Position("BTCUSDT")
	require.False(t, ok)

	// Long 2 @ 100 closed @ 110 realizes +20.
	approx(t, 20, b.Summary().Realized["USDT"])
}

func TestShortCloseRealizesSignFlipped(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 100, Quantity: 2, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 110, Quantity: 2, SettleAsset: "USDT"})

	// Short 2 @ 100 bought back @ 110 realizes -20.
	approx(t, -20, b.Summary().Realized["USDT"])
}

func TestOverCloseFlipsSideWithRemainder(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 2, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 120, Quantity: 5, SettleAsset: "USDT"})

	pos, ok := b.Position("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, model.SideSell, pos.Side)
	approx(t, 3, pos.Quantity)
	approx(t, 120, pos.EntryPrice) // remainder opens at the fill price
	approx(t, 40, b.Summary().Realized["USDT"])
}

func TestPartialCloseKeepsEntry(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 4, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 105, Quantity: 1, SettleAsset: "USDT"})

	pos, ok := b.Position("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, model.SideBuy, pos.Side)
	approx(t, 3, pos.Quantity)
	approx(t, 100, pos.EntryPrice)
	approx(t, 5, b.Summary().Realized["USDT"])
}

func TestContractMultiplierScalesRealized(t *testing.T) {
	b := newTestBook()
	b.SetMultiplier("BTCUSDT", 0.01)

	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 200, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 110, Quantity: 200, SettleAsset: "USDT"})

	// 200 contracts * 0.01 contract size * 10 move = 20.
	approx(t, 20, b.Summary().Realized["USDT"])
}

func TestCommissionLedgerPerCurrency(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 1, FeeCurrency: "USDT", FeeAmount: 0.05})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 1, FeeCurrency: "BNB", FeeAmount: 0.001})

	s := b.Summary()
	approx(t, 0.05, s.Commission["USDT"])
	approx(t, 0.001, s.Commission["BNB"])
	require.Equal(t, 2, s.Trades)
}

func TestExecutedTradeCarriesRealized(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 2, SettleAsset: "USDT"})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideSell, Price: 110, Quantity: 2, SettleAsset: "USDT"})

	trades := b.Trades()
	require.Len(t, trades, 2)
	approx(t, 0, trades[0].RealizedPnl)
	approx(t, 20, trades[1].RealizedPnl)
	approx(t, 10, trades[1].RealizedPct) // 20 on a 200 notional base
}

func TestDegenerateFillIgnored(t *testing.T) {
	b := newTestBook()
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 0, Quantity: 1})
	b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: -1})

	_, ok := b.Position("BTCUSDT")
	require.False(t, ok)
	require.Empty(t, b.Trades())
}

func TestWaitFresh(t *testing.T) {
	b := newTestBook()

	// Nothing there: the budget expires.
	start := time.Now()
	require.False(t, b.WaitFresh(context.Background(), "BTCUSDT", time.Second, 300*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	// A fill lands while a waiter is probing.
	go func() {
		time.Sleep(100 * time.Millisecond)
		b.ApplyFill(Fill{Symbol: "BTCUSDT", Side: model.SideBuy, Price: 100, Quantity: 1})
	}()
	require.True(t, b.WaitFresh(context.Background(), "BTCUSDT", time.Second, 2*time.Second))
}
