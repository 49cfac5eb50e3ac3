package events

import (
	"sync"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/model"
)

// Listener receives terminal events. Implementations must not block: the bus
// invokes callbacks synchronously from the owning session's run loop.
type Listener interface {
	ConnectionStateChanged(profile model.ExchangeProfile, state model.ConnState, message string)
	OrderPlaced(profile model.ExchangeProfile, symbol string, side model.Side, price, qty float64, orderID string)
	OrderCanceled(profile model.ExchangeProfile, symbol string, side model.Side, price float64, orderID string)
	OrderFailed(profile model.ExchangeProfile, symbol string, message string)
	PositionChanged(profile model.ExchangeProfile, symbol string, pos model.Position)
	TradeExecuted(trade model.ExecutedTrade)
	LocalOrdersUpdated(profile model.ExchangeProfile, symbol string, markers []model.OrderMarker)
	StopOrdersUpdated(profile model.ExchangeProfile, symbol string, hasSL bool, slPrice float64, hasTP bool, tpPrice float64)
	PnlSummaryChanged(profile model.ExchangeProfile, summary model.PnLSummary)
	LogMessage(profile model.ExchangeProfile, message string)
}

// Bus fans events out to every registered listener. Registration is expected
// at startup; Emit-side calls take a read lock only.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Bus) each(fn func(Listener)) {
	b.mu.RLock()
	snapshot := make([]Listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()
	for _, l := range snapshot {
		fn(l)
	}
}

func (b *Bus) ConnectionStateChanged(profile model.ExchangeProfile, state model.ConnState, message string) {
	b.each(func(l Listener) { l.ConnectionStateChanged(profile, state, message) })
}

func (b *Bus) OrderPlaced(profile model.ExchangeProfile, symbol string, side model.Side, price, qty float64, orderID string) {
	b.each(func(l Listener) { l.OrderPlaced(profile, symbol, side, price, qty, orderID) })
}

func (b *Bus) OrderCanceled(profile model.ExchangeProfile, symbol string, side model.Side, price float64, orderID string) {
	b.each(func(l Listener) { l.OrderCanceled(profile, symbol, side, price, orderID) })
}

func (b *Bus) OrderFailed(profile model.ExchangeProfile, symbol string, message string) {
	b.each(func(l Listener) { l.OrderFailed(profile, symbol, message) })
}

func (b *Bus) PositionChanged(profile model.ExchangeProfile, symbol string, pos model.Position) {
	b.each(func(l Listener) { l.PositionChanged(profile, symbol, pos) })
}

func (b *Bus) TradeExecuted(trade model.ExecutedTrade) {
	b.each(func(l Listener) { l.TradeExecuted(trade) })
}

func (b *Bus) LocalOrdersUpdated(profile model.ExchangeProfile, symbol string, markers []model.OrderMarker) {
	b.each(func(l Listener) { l.LocalOrdersUpdated(profile, symbol, markers) })
}

func (b *Bus) StopOrdersUpdated(profile model.ExchangeProfile, symbol string, hasSL bool, slPrice float64, hasTP bool, tpPrice float64) {
	b.each(func(l Listener) { l.StopOrdersUpdated(profile, symbol, hasSL, slPrice, hasTP, tpPrice) })
}

func (b *Bus) PnlSummaryChanged(profile model.ExchangeProfile, summary model.PnLSummary) {
	b.each(func(l Listener) { l.PnlSummaryChanged(profile, summary) })
}

func (b *Bus) LogMessage(profile model.ExchangeProfile, message string) {
	b.each(func(l Listener) { l.LogMessage(profile, message) })
}

// NopListener implements Listener with no-ops so collaborators can embed it
// and override only the callbacks they care about.
type NopListener struct{}

func (NopListener) ConnectionStateChanged(model.ExchangeProfile, model.ConnState, string) {}
func (NopListener) OrderPlaced(model.ExchangeProfile, string, model.Side, float64, float64, string) {
}
func (NopListener) OrderCanceled(model.ExchangeProfile, string, model.Side, float64, string) {}
func (NopListener) OrderFailed(model.ExchangeProfile, string, string)                        {}
func (NopListener) PositionChanged(model.ExchangeProfile, string, model.Position)            {}
func (NopListener) TradeExecuted(model.ExecutedTrade)                                        {}
func (NopListener) LocalOrdersUpdated(model.ExchangeProfile, string, []model.OrderMarker)    {}
func (NopListener) StopOrdersUpdated(model.ExchangeProfile, string, bool, float64, bool, float64) {
}
func (NopListener) PnlSummaryChanged(model.ExchangeProfile, model.PnLSummary) {}
func (NopListener) LogMessage(model.ExchangeProfile, string)                  {}

// LogListener mirrors every event into the structured log. It is always
// registered so no event is ever silently dropped.
type LogListener struct {
	NopListener
}

func (LogListener) ConnectionStateChanged(profile model.ExchangeProfile, state model.ConnState, message string) {
	logger.WithFields(logger.Fields{
		"profile": profile,
		"state":   state,
		"message": message,
	}).Info("connection state changed")
}

func (LogListener) OrderFailed(profile model.ExchangeProfile, symbol string, message string) {
	logger.WithFields(logger.Fields{
		"profile": profile,
		"symbol":  symbol,
		"message": message,
	}).Warn("order command failed")
}

func (LogListener) TradeExecuted(trade model.ExecutedTrade) {
	logger.WithFields(logger.Fields{
		"profile": trade.Account,
		"symbol":  trade.Symbol,
		"side":    trade.Side,
		"price":   trade.Price,
		"qty":     trade.Quantity,
		"pnl":     trade.RealizedPnl,
	}).Info("trade executed")
}

func (LogListener) LogMessage(profile model.ExchangeProfile, message string) {
	logger.WithField("profile", profile).Info(message)
}
