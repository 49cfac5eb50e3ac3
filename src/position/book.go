// Package position folds fills into per-symbol positions and the per-asset
// realized P&L ledger, and produces the immutable executed-trade records.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeterm/src/events"
	"tradeterm/src/model"
)

// freshProbeInterval is how often WaitFresh re-checks the position stamp.
const freshProbeInterval = 250 * time.Millisecond

// TradeSink receives every executed trade for durable append-only storage.
type TradeSink interface {
	Append(trade model.ExecutedTrade) error
}

// Fill is one execution to apply to the book.
type Fill struct {
	Symbol      string
	Side        model.Side
	Price       float64
	Quantity    float64
	FeeCurrency string
	FeeAmount   float64
	SettleAsset string
	Time        time.Time
}

// Book is the per-profile position and P&L state. All mutation goes through
// ApplyFill; reads take a read lock so collaborators may snapshot freely.
type Book struct {
	profile model.ExchangeProfile
	bus     *events.Bus
	sink    TradeSink

	mu          sync.RWMutex
	positions   map[string]*model.Position
	multipliers map[string]float64
	realized    map[string]float64
	commission  map[string]float64
	trades      []model.ExecutedTrade
}

func NewBook(profile model.ExchangeProfile, bus *events.Bus, sink TradeSink) *Book {
	return &Book{
		profile:     profile,
		bus:         bus,
		sink:        sink,
		positions:   make(map[string]*model.Position),
		multipliers: make(map[string]float64),
		realized:    make(map[string]float64),
		commission:  make(map[string]float64),
	}
}

// SetMultiplier records the contract size for a derivatives symbol. Fills
// for symbols without a multiplier use 1.
func (b *Book) SetMultiplier(symbol string, m float64) {
	if m <= 0 {
		return
	}
	b.mu.Lock()
	b.multipliers[symbol] = m
	b.mu.Unlock()
}

func (b *Book) multiplier(symbol string) float64 {
	if m, ok := b.multipliers[symbol]; ok {
		return m
	}
	return 1
}

// ApplyFill applies one execution:
//   - no position: open at (side, price, qty)
//   - same side: weighted-average the entry price
//   - opposite side: realize P&L on min(existing, fill); a larger fill flips
//     the side and re-opens with the remainder at the fill price
//
// Every application stamps the position, appends an ExecutedTrade, folds the
// fee into the commission ledger and notifies collaborators.
func (b *Book) ApplyFill(f Fill) {
	if f.Quantity <= 0 || f.Price <= 0 {
		logger.WithFields(logger.Fields{
			"profile": b.profile,
			"symbol":  f.Symbol,
			"price":   f.Price,
			"qty":     f.Quantity,
		}).Warn("ignoring degenerate fill")
		return
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}

	b.mu.Lock()

	mult := b.multiplier(f.Symbol)
	pos, ok := b.positions[f.Symbol]
	if !ok {
		pos = &model.Position{Symbol: f.Symbol, Multiplier: mult}
		b.positions[f.Symbol] = pos
	}

	var realizedPnl float64
	var closedNotional float64

	switch {
	case !pos.HasPosition:
		pos.Side = f.Side
		pos.Quantity = f.Quantity
		pos.EntryPrice = f.Price
		pos.HasPosition = true

	case pos.Side == f.Side:
		total := pos.Quantity + f.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + f.Price*f.Quantity) / total
		pos.Quantity = total

	default:
		closed := pos.Quantity
		if f.Quantity < closed {
			closed = f.Quantity
		}
		diff := f.Price - pos.EntryPrice
		if pos.Side == model.SideSell {
			diff = -diff
		}
		realizedPnl = diff * closed * mult
		closedNotional = pos.EntryPrice * closed * mult
		pos.RealizedPnl += realizedPnl

		remainder := f.Quantity - pos.Quantity
		switch {
		case remainder > 0:
			// Side flip: close out, re-open on the opposite side at the
			// fill price.
			pos.Side = f.Side
			pos.Quantity = remainder
			pos.EntryPrice = f.Price
		case remainder == 0:
			pos.Quantity = 0
			pos.HasPosition = false
		default:
			pos.Quantity -= closed
		}
	}

	pos.UpdatedAt = f.Time

	settle := f.SettleAsset
	if settle == "" {
		settle = f.FeeCurrency
	}
	if settle == "" {
		settle = "USDT"
	}
	if realizedPnl != 0 {
		b.realized[settle] += realizedPnl
	}
	if f.FeeAmount != 0 {
		cur := f.FeeCurrency
		if cur == "" {
			cur = settle
		}
		b.commission[cur] += f.FeeAmount
	}

	trade := model.ExecutedTrade{
		Time:        f.Time,
		Account:     b.profile,
		Symbol:      f.Symbol,
		Side:        f.Side,
		Price:       f.Price,
		Quantity:    f.Quantity,
		FeeCurrency: f.FeeCurrency,
		FeeAmount:   f.FeeAmount,
		RealizedPnl: realizedPnl,
		RealizedPct: realizedPct(realizedPnl, closedNotional),
	}
	b.trades = append(b.trades, trade)

	snapshot := *pos
	if !pos.HasPosition {
		delete(b.positions, f.Symbol)
	}
	summary := b.summaryLocked()
	b.mu.Unlock()

	if b.sink != nil {
		if err := b.sink.Append(trade); err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"profile": b.profile,
				"symbol":  f.Symbol,
			}).Error("failed to append trade to durable log")
		}
	}

	if b.bus != nil {
		b.bus.PositionChanged(b.profile, f.Symbol, snapshot)
		b.bus.TradeExecuted(trade)
		b.bus.PnlSummaryChanged(b.profile, summary)
	}
}

// realizedPct computes the realized P&L as a percentage of the closed
// notional, using decimals to avoid drift on small bases.
func realizedPct(pnl, notional float64) float64 {
	if notional == 0 {
		return 0
	}
	pct := decimal.NewFromFloat(pnl).
		Div(decimal.NewFromFloat(notional)).
		Mul(decimal.NewFromInt(100))
	return pct.InexactFloat64()
}

// ObserveSnapshot reconciles a polled position snapshot into the book. The
// exchange is authoritative for side, quantity and entry price; the locally
// accumulated realized P&L is preserved when the snapshot carries none. Every
// observed symbol gets a fresh stamp, which is what WaitFresh watches between
// fills.
func (b *Book) ObserveSnapshot(snapshot []model.Position) {
	now := time.Now()

	b.mu.Lock()
	seen := make(map[string]bool, len(snapshot))
	var changed []model.Position

	for _, snap := range snapshot {
		if !snap.HasPosition || snap.Quantity <= 0 {
			continue
		}
		seen[snap.Symbol] = true

		pos, ok := b.positions[snap.Symbol]
		if !ok {
			pos = &model.Position{Symbol: snap.Symbol, Multiplier: b.multiplier(snap.Symbol)}
			b.positions[snap.Symbol] = pos
		}
		moved := !ok || pos.Side != snap.Side || pos.Quantity != snap.Quantity || pos.EntryPrice != snap.EntryPrice
		pos.Side = snap.Side
		pos.Quantity = snap.Quantity
		pos.EntryPrice = snap.EntryPrice
		pos.HasPosition = true
		if snap.RealizedPnl != 0 {
			pos.RealizedPnl = snap.RealizedPnl
		}
		if snap.Multiplier > 0 {
			pos.Multiplier = snap.Multiplier
			b.multipliers[snap.Symbol] = snap.Multiplier
		}
		pos.UpdatedAt = now
		if moved {
			changed = append(changed, *pos)
		}
	}

	for symbol, pos := range b.positions {
		if seen[symbol] {
			continue
		}
		gone := *pos
		gone.Quantity = 0
		gone.HasPosition = false
		gone.UpdatedAt = now
		delete(b.positions, symbol)
		changed = append(changed, gone)
	}
	b.mu.Unlock()

	if b.bus != nil {
		for _, pos := range changed {
			b.bus.PositionChanged(b.profile, pos.Symbol, pos)
		}
	}
}

// Position returns a snapshot of the current position for symbol.
func (b *Book) Position(symbol string) (model.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return model.Position{Symbol: symbol}, false
	}
	return *pos, true
}

// Positions returns snapshots of every open position.
func (b *Book) Positions() []model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Trades returns a copy of the in-memory executed-trade history.
func (b *Book) Trades() []model.ExecutedTrade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.ExecutedTrade, len(b.trades))
	copy(out, b.trades)
	return out
}

// Summary returns the per-asset realized P&L and commission totals.
func (b *Book) Summary() model.PnLSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summaryLocked()
}

func (b *Book) summaryLocked() model.PnLSummary {
	s := model.PnLSummary{
		Profile:    b.profile,
		Realized:   make(map[string]float64, len(b.realized)),
		Commission: make(map[string]float64, len(b.commission)),
		Trades:     len(b.trades),
	}
	for k, v := range b.realized {
		s.Realized[k] = v
	}
	for k, v := range b.commission {
		s.Commission[k] = v
	}
	return s
}

// WaitFresh blocks until the position for symbol was updated within maxAge,
// probing every 250ms up to the budget. It reports whether a fresh position
// was observed. Risk actions such as arming a stop order call this instead of
// acting on a stale average price.
func (b *Book) WaitFresh(ctx context.Context, symbol string, maxAge, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		pos, ok := b.Position(symbol)
		if ok && time.Since(pos.UpdatedAt) <= maxAge {
			return true
		}
		if time.Now().After(deadline) {
			logger.WithFields(logger.Fields{
				"profile": b.profile,
				"symbol":  symbol,
			}).Warn("position still stale after freshness budget")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(freshProbeInterval):
		}
	}
}
