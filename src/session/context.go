// Package session owns the per-profile connection state machines. Each
// Context is an actor: a run loop drains an inbox of messages, and all
// mutable state is touched only from that loop. Transport callbacks and
// timers post messages back into the inbox; a generation token per connect
// attempt keeps late completions from a previous attempt from mutating
// current state.
package session

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/backoff"
	"tradeterm/src/connectors"
	"tradeterm/src/events"
	"tradeterm/src/model"
	"tradeterm/src/orders"
	"tradeterm/src/position"
)

// Status is the queryable snapshot of a session's connection state.
type Status struct {
	Profile  model.ExchangeProfile
	State    model.ConnState
	Message  string
	Balances []model.Balance
	Watched  []string
}

// Context is the actor for one exchange profile. Commands are posted into
// the run loop and report their outcome through the event bus rather than
// return values.
type Context struct {
	profile model.ExchangeProfile
	cfg     Config
	bus     *events.Bus
	factory DriverFactory
	proxy   *ProxyChecker

	inbox chan func()

	// Everything below is owned by the run loop.
	state      model.ConnState
	stateMsg   string
	creds      model.Credentials
	proxySpec  model.ProxySpec
	driver     Driver
	generation uint64

	book  *position.Book
	recon *orders.Reconciler

	watched  map[string]struct{}
	balances []model.Balance

	pendingAccount bool
	pendingTrades  bool
	pendingOrders  map[string]bool
	dirty          map[string]bool

	// fillCursor is the applied-through time per symbol for the trade
	// poller. Streamed fills advance it too, so a later poll returning the
	// same execution is a no-op.
	fillCursor map[string]time.Time

	accountBackoff *backoff.Controller
	tradeBackoff   *backoff.Controller

	accountTimer   *time.Timer
	tradeTimer     *time.Timer
	orderTimer     *time.Timer
	reconnectTimer *time.Timer
}

// NewContext builds and starts the actor for profile. The book and the order
// reconciler live for the process lifetime: realized P&L and stop-kind labels
// survive reconnects.
func NewContext(profile model.ExchangeProfile, cfg Config, bus *events.Bus, factory DriverFactory, proxy *ProxyChecker, sink position.TradeSink) *Context {
	c := &Context{
		profile:        profile,
		cfg:            cfg,
		bus:            bus,
		factory:        factory,
		proxy:          proxy,
		inbox:          make(chan func(), 64),
		state:          model.StateDisconnected,
		watched:        make(map[string]struct{}),
		pendingOrders:  make(map[string]bool),
		dirty:          make(map[string]bool),
		fillCursor:     make(map[string]time.Time),
		accountBackoff: backoff.NewController(string(profile)+"/account", cfg.AccountPollInterval, cfg.BackoffCeiling),
		tradeBackoff:   backoff.NewController(string(profile)+"/trades", cfg.TradePollInterval, cfg.BackoffCeiling),
	}
	c.book = position.NewBook(profile, bus, sink)
	c.recon = orders.NewReconciler(profile, bus, stopCancelRelay{c})
	go c.run()
	return c
}

func (c *Context) run() {
	for msg := range c.inbox {
		msg()
	}
}

func (c *Context) post(fn func()) { c.inbox <- fn }

// after arms a timer that posts fn back into the run loop.
func (c *Context) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { c.post(fn) })
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (c *Context) Profile() model.ExchangeProfile { return c.profile }

// Book exposes the thread-safe position book for read-only collaborators.
func (c *Context) Book() *position.Book { return c.book }

// Orders exposes the thread-safe order reconciler for read-only collaborators.
func (c *Context) Orders() *orders.Reconciler { return c.recon }

// Status answers a snapshot query through the run loop.
func (c *Context) Status() Status {
	reply := make(chan Status, 1)
	c.post(func() {
		watched := make([]string, 0, len(c.watched))
		for s := range c.watched {
			watched = append(watched, s)
		}
		balances := make([]model.Balance, len(c.balances))
		copy(balances, c.balances)
		reply <- Status{
			Profile:  c.profile,
			State:    c.state,
			Message:  c.stateMsg,
			Balances: balances,
			Watched:  watched,
		}
	})
	return <-reply
}

// ---------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------

// SetCredentials stores credentials for the next connect. A live session
// keeps its current credentials until reconnected.
func (c *Context) SetCredentials(creds model.Credentials) {
	c.post(func() { c.creds = creds })
}

// SetProxy stores the proxy used by subsequent connects.
func (c *Context) SetProxy(spec model.ProxySpec) {
	c.post(func() { c.proxySpec = spec })
}

// SetWatchedSymbols replaces the watched-symbol set. Orders of symbols no
// longer watched are forgotten; new symbols get a prompt order poll and a
// metadata fetch.
func (c *Context) SetWatchedSymbols(symbols []string) {
	c.post(func() { c.setWatched(symbols) })
}

// Connect starts a connect attempt. Valid from Disconnected and Error;
// ignored while Connecting or Connected.
func (c *Context) Connect() {
	c.post(func() { c.connect() })
}

// Disconnect tears the session down. Valid from any state, idempotent, and
// disarms the reconnect timer.
func (c *Context) Disconnect() {
	c.post(func() { c.disconnect("disconnected by request") })
}

// PlaceLimitOrder submits a resting limit order. leverage 0 keeps the
// account's current leverage.
func (c *Context) PlaceLimitOrder(symbol string, side model.Side, price, qty float64, leverage int) {
	c.post(func() {
		if price <= 0 || qty <= 0 {
			c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("invalid limit order: price=%v qty=%v", price, qty))
			return
		}
		drv, ok := c.commandDriver(symbol)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := c.commandCtx()
			defer cancel()
			orderID, err := drv.PlaceLimit(ctx, symbol, side, price, qty, leverage)
			if err != nil {
				c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("place limit: %v", err))
				return
			}
			c.bus.OrderPlaced(c.profile, symbol, side, price, qty, orderID)
			c.post(func() { c.markDirty(symbol) })
		}()
	})
}

// ClosePosition closes the symbol's open position with a market order.
// priceHint is advisory only and ends up in the log line.
func (c *Context) ClosePosition(symbol string, priceHint float64) {
	c.post(func() {
		pos, ok := c.book.Position(symbol)
		if !ok || !pos.HasPosition {
			c.bus.OrderFailed(c.profile, symbol, "no open position to close")
			return
		}
		drv, okDrv := c.commandDriver(symbol)
		if !okDrv {
			return
		}
		logger.WithFields(logger.Fields{
			"profile":    c.profile,
			"symbol":     symbol,
			"qty":        pos.Quantity,
			"price_hint": priceHint,
		}).Info("closing position at market")
		go func() {
			ctx, cancel := c.commandCtx()
			defer cancel()
			orderID, err := drv.CloseMarket(ctx, symbol, pos.Side, pos.Quantity)
			if err != nil {
				c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("close position: %v", err))
				return
			}
			c.bus.OrderPlaced(c.profile, symbol, pos.Side.Opposite(), 0, pos.Quantity, orderID)
			c.post(func() { c.markDirty(symbol) })
		}()
	})
}

// PlaceStopOrder arms a stop-loss or take-profit covering the whole open
// position. The command waits briefly for a fresh position before sizing the
// stop, rather than acting on a stale average price.
func (c *Context) PlaceStopOrder(symbol string, triggerPrice float64, isStopLoss bool) {
	c.post(func() {
		if triggerPrice <= 0 {
			c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("invalid trigger price %v", triggerPrice))
			return
		}
		drv, ok := c.commandDriver(symbol)
		if !ok {
			return
		}
		c.requestAccountPoll()
		go func() {
			ctx, cancel := c.commandCtx()
			defer cancel()
			if !c.book.WaitFresh(ctx, symbol, c.cfg.FreshnessMaxAge, c.cfg.FreshnessBudget) {
				logger.WithFields(logger.Fields{
					"profile": c.profile,
					"symbol":  symbol,
				}).Warn("arming stop on a stale position snapshot")
			}
			pos, okPos := c.book.Position(symbol)
			if !okPos || !pos.HasPosition {
				c.bus.OrderFailed(c.profile, symbol, "no open position for stop order")
				return
			}
			orderID, err := drv.PlaceStop(ctx, symbol, pos.Side, triggerPrice, pos.Quantity, isStopLoss)
			if err != nil {
				c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("place stop: %v", err))
				return
			}
			c.bus.OrderPlaced(c.profile, symbol, pos.Side.Opposite(), triggerPrice, pos.Quantity, orderID)
			c.post(func() { c.markDirty(symbol) })
		}()
	})
}

// CancelStopOrder cancels the live stop of the given kind for symbol.
func (c *Context) CancelStopOrder(symbol string, isStopLoss bool) {
	c.post(func() {
		kind := model.StopKindTakeProfit
		if isStopLoss {
			kind = model.StopKindStopLoss
		}
		stop, found := c.recon.StopOfKind(symbol, kind)
		if !found {
			c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("no live %s order to cancel", kind))
			return
		}
		c.cancelByID(symbol, stop.OrderID)
	})
}

// CancelOrder cancels one order by exchange id.
func (c *Context) CancelOrder(symbol, orderID string) {
	c.post(func() { c.cancelByID(symbol, orderID) })
}

// CancelAllOrders cancels every live order for symbol.
func (c *Context) CancelAllOrders(symbol string) {
	c.post(func() {
		drv, ok := c.commandDriver(symbol)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := c.commandCtx()
			defer cancel()
			if err := drv.CancelAll(ctx, symbol); err != nil {
				c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("cancel all: %v", err))
				return
			}
			c.bus.LogMessage(c.profile, "canceled all orders for "+symbol)
			c.post(func() { c.markDirty(symbol) })
		}()
	})
}

// cancelByID runs on the loop; the network call is dispatched.
func (c *Context) cancelByID(symbol, orderID string) {
	drv, ok := c.commandDriver(symbol)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := c.commandCtx()
		defer cancel()
		if err := drv.CancelOrder(ctx, symbol, orderID); err != nil {
			c.bus.OrderFailed(c.profile, symbol, fmt.Sprintf("cancel %s: %v", orderID, err))
			return
		}
		c.post(func() { c.markDirty(symbol) })
	}()
}

// commandDriver validates the session is connected before a trading command.
// Runs on the loop.
func (c *Context) commandDriver(symbol string) (Driver, bool) {
	if c.state != model.StateConnected || c.driver == nil {
		c.bus.OrderFailed(c.profile, symbol, "not connected")
		return nil, false
	}
	return c.driver, true
}

func (c *Context) commandCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
}

// ---------------------------------------------------------------------
// Connect / disconnect
// ---------------------------------------------------------------------

func (c *Context) setState(state model.ConnState, msg string) {
	if c.state == state && c.stateMsg == msg {
		return
	}
	c.state = state
	c.stateMsg = msg
	logger.WithFields(logger.Fields{
		"profile": c.profile,
		"state":   state,
		"message": msg,
	}).Info("connection state changed")
	c.bus.ConnectionStateChanged(c.profile, state, msg)
}

func (c *Context) connect() {
	switch c.state {
	case model.StateConnecting, model.StateConnected:
		logger.WithFields(logger.Fields{
			"profile": c.profile,
			"state":   c.state,
		}).Debug("connect ignored in current state")
		return
	}
	if c.creds.Empty() {
		c.setState(model.StateError, "credentials not configured")
		return
	}

	stopTimer(c.reconnectTimer)
	c.reconnectTimer = nil

	c.generation++
	gen := c.generation
	creds := c.creds
	proxySpec := c.proxySpec
	c.setState(model.StateConnecting, "connecting")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
		defer cancel()

		proxyURL, err := c.proxy.Check(ctx, proxySpec)
		if err != nil {
			c.post(func() { c.connectFailed(gen, fmt.Errorf("proxy pre-flight: %w", err)) })
			return
		}

		drv, err := c.factory(c.profile, creds)
		if err != nil {
			c.post(func() { c.connectFailed(gen, err) })
			return
		}

		hooks := Hooks{
			OnFill:   func(fill connectors.Fill) { c.post(func() { c.onStreamedFill(gen, fill) }) },
			OnOrders: func(symbol string, live []orders.LiveOrder) { c.post(func() { c.onStreamedOrders(gen, symbol, live) }) },
			OnDirty:  func(symbol string) { c.post(func() { c.onSymbolDirty(gen, symbol) }) },
			OnDown:   func(err error) { c.post(func() { c.onTransportDown(gen, err) }) },
		}
		if err := drv.Connect(ctx, proxyURL, hooks); err != nil {
			drv.Disconnect()
			c.post(func() { c.connectFailed(gen, err) })
			return
		}
		c.post(func() { c.connected(gen, drv) })
	}()
}

func (c *Context) connectFailed(gen uint64, err error) {
	if gen != c.generation {
		logger.WithField("profile", c.profile).Debug("stale connect failure ignored")
		return
	}
	logger.WithError(err).WithField("profile", c.profile).Error("connect failed")
	c.setState(model.StateError, err.Error())
	c.armReconnect()
}

func (c *Context) connected(gen uint64, drv Driver) {
	if gen != c.generation {
		// A disconnect or newer connect superseded this attempt.
		drv.Disconnect()
		return
	}
	c.driver = drv
	c.setState(model.StateConnected, "connected")

	stopTimer(c.reconnectTimer)
	c.reconnectTimer = nil

	c.accountBackoff.OnSuccess()
	c.tradeBackoff.OnSuccess()
	c.requestAccountPoll()
	c.scheduleTradePoll(c.cfg.TradePollInterval)
	c.scheduleOrderPoll(c.cfg.OrderPollInterval)

	for symbol := range c.watched {
		c.fetchMetadata(symbol)
		c.markDirty(symbol)
	}
}

// disconnect is the idempotent teardown. Runs on the loop.
func (c *Context) disconnect(reason string) {
	c.generation++ // invalidates every in-flight completion

	stopTimer(c.reconnectTimer)
	stopTimer(c.accountTimer)
	stopTimer(c.tradeTimer)
	stopTimer(c.orderTimer)
	c.reconnectTimer = nil
	c.accountTimer = nil
	c.tradeTimer = nil
	c.orderTimer = nil
	c.pendingAccount = false
	c.pendingTrades = false
	c.pendingOrders = make(map[string]bool)
	c.dirty = make(map[string]bool)

	if c.driver != nil {
		c.driver.Disconnect()
		c.driver = nil
	}
	for symbol := range c.watched {
		c.recon.Forget(symbol)
	}
	if c.state != model.StateDisconnected {
		c.setState(model.StateDisconnected, reason)
	}
}

// onTransportDown handles an unexpected drop after a successful connect: tear
// down, report Error and arm the reconnect timer.
func (c *Context) onTransportDown(gen uint64, err error) {
	if gen != c.generation {
		return
	}
	logger.WithError(err).WithField("profile", c.profile).Warn("transport lost")
	if c.driver != nil {
		c.driver.Disconnect()
		c.driver = nil
	}
	c.generation++
	c.setState(model.StateError, fmt.Sprintf("transport lost: %v", err))
	c.armReconnect()
}

func (c *Context) armReconnect() {
	if c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = c.after(c.cfg.ReconnectDelay, func() {
		c.reconnectTimer = nil
		if c.state == model.StateConnected || c.state == model.StateConnecting {
			return
		}
		logger.WithField("profile", c.profile).Info("reconnect timer fired")
		c.connect()
	})
}

// ---------------------------------------------------------------------
// Stream handlers
// ---------------------------------------------------------------------

func (c *Context) onStreamedFill(gen uint64, fill connectors.Fill) {
	if gen != c.generation {
		return
	}
	c.applyFill(fill)
}

func (c *Context) applyFill(fill connectors.Fill) {
	c.book.ApplyFill(position.Fill{
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Price:       fill.Price,
		Quantity:    fill.Quantity,
		FeeCurrency: fill.FeeCurrency,
		FeeAmount:   fill.FeeAmount,
		SettleAsset: fill.SettleAsset,
		Time:        fill.Time,
	})
	if fill.Time.After(c.fillCursor[fill.Symbol]) {
		c.fillCursor[fill.Symbol] = fill.Time
	}
	c.markDirty(fill.Symbol)
}

func (c *Context) onStreamedOrders(gen uint64, symbol string, live []orders.LiveOrder) {
	if gen != c.generation {
		return
	}
	pos, _ := c.book.Position(symbol)
	c.recon.Sync(symbol, live, pos)
}

func (c *Context) onSymbolDirty(gen uint64, symbol string) {
	if gen != c.generation {
		return
	}
	c.markDirty(symbol)
	c.pollOrdersFor(symbol)
}

// ---------------------------------------------------------------------
// Pollers
// ---------------------------------------------------------------------

// requestAccountPoll starts an account snapshot fetch now unless one is
// already outstanding.
func (c *Context) requestAccountPoll() {
	if c.state != model.StateConnected || c.pendingAccount || c.driver == nil {
		return
	}
	c.pendingAccount = true
	gen := c.generation
	drv := c.driver
	go func() {
		ctx, cancel := c.commandCtx()
		defer cancel()
		positions, balances, err := drv.FetchPositions(ctx)
		c.post(func() { c.accountPollDone(gen, positions, balances, err) })
	}()
}

func (c *Context) accountPollDone(gen uint64, positions []model.Position, balances []model.Balance, err error) {
	if gen != c.generation {
		return
	}
	c.pendingAccount = false

	interval := c.cfg.AccountPollInterval
	switch {
	case err != nil && connectors.IsRateLimited(err):
		interval = c.accountBackoff.OnRateLimited()
	case err != nil:
		logger.WithError(err).WithField("profile", c.profile).Warn("account poll failed")
	default:
		interval = c.accountBackoff.OnSuccess()
		if positions != nil {
			c.book.ObserveSnapshot(positions)
		}
		if balances != nil {
			c.balances = balances
		}
	}

	stopTimer(c.accountTimer)
	c.accountTimer = c.after(interval, func() {
		c.accountTimer = nil
		c.requestAccountPoll()
	})
}

func (c *Context) scheduleTradePoll(d time.Duration) {
	stopTimer(c.tradeTimer)
	c.tradeTimer = c.after(d, func() {
		c.tradeTimer = nil
		c.tradePoll()
	})
}

// tradePoll fetches recent fills for every watched symbol and applies the
// ones past the per-symbol cursor. The first poll per symbol only sets the
// baseline so history does not replay into the book.
func (c *Context) tradePoll() {
	if c.state != model.StateConnected || c.driver == nil {
		return
	}
	if c.pendingTrades || len(c.watched) == 0 {
		c.scheduleTradePoll(c.tradeBackoff.Interval())
		return
	}
	c.pendingTrades = true
	gen := c.generation
	drv := c.driver
	symbols := make([]string, 0, len(c.watched))
	for s := range c.watched {
		symbols = append(symbols, s)
	}

	go func() {
		ctx, cancel := c.commandCtx()
		defer cancel()
		fills := make(map[string][]connectors.Fill, len(symbols))
		var pollErr error
		for _, symbol := range symbols {
			got, err := drv.FetchFills(ctx, symbol)
			if err != nil {
				pollErr = err
				break
			}
			if len(got) > 0 {
				fills[symbol] = got
			}
		}
		c.post(func() { c.tradePollDone(gen, fills, pollErr) })
	}()
}

func (c *Context) tradePollDone(gen uint64, fills map[string][]connectors.Fill, err error) {
	if gen != c.generation {
		return
	}
	c.pendingTrades = false

	interval := c.cfg.TradePollInterval
	switch {
	case err != nil && connectors.IsRateLimited(err):
		interval = c.tradeBackoff.OnRateLimited()
	case err != nil:
		logger.WithError(err).WithField("profile", c.profile).Warn("trade poll failed")
	default:
		interval = c.tradeBackoff.OnSuccess()
		for symbol, got := range fills {
			cursor, seeded := c.fillCursor[symbol]
			if !seeded {
				// Baseline: skip history, start applying from here on.
				newest := time.Time{}
				for _, f := range got {
					if f.Time.After(newest) {
						newest = f.Time
					}
				}
				c.fillCursor[symbol] = newest
				continue
			}
			for _, f := range got {
				if !f.Time.After(cursor) {
					continue
				}
				c.applyFill(f)
			}
		}
	}

	c.scheduleTradePoll(interval)
}

func (c *Context) scheduleOrderPoll(d time.Duration) {
	stopTimer(c.orderTimer)
	c.orderTimer = c.after(d, func() {
		c.orderTimer = nil
		c.orderPoll()
	})
}

// orderPoll refreshes the live-order snapshot of every watched or dirty
// symbol.
func (c *Context) orderPoll() {
	if c.state != model.StateConnected || c.driver == nil {
		return
	}
	for symbol := range c.watched {
		c.pollOrdersFor(symbol)
	}
	for symbol := range c.dirty {
		c.pollOrdersFor(symbol)
	}
	c.scheduleOrderPoll(c.cfg.OrderPollInterval)
}

// pollOrdersFor fetches one symbol's live orders unless a fetch is already
// outstanding. Runs on the loop.
func (c *Context) pollOrdersFor(symbol string) {
	if c.state != model.StateConnected || c.driver == nil || c.pendingOrders[symbol] {
		return
	}
	c.pendingOrders[symbol] = true
	delete(c.dirty, symbol)
	gen := c.generation
	drv := c.driver

	go func() {
		ctx, cancel := c.commandCtx()
		defer cancel()
		live, err := drv.FetchOrders(ctx, symbol)
		c.post(func() {
			if gen != c.generation {
				return
			}
			c.pendingOrders[symbol] = false
			if err != nil {
				if connectors.IsRateLimited(err) {
					c.accountBackoff.OnRateLimited()
				}
				logger.WithError(err).WithFields(logger.Fields{
					"profile": c.profile,
					"symbol":  symbol,
				}).Warn("order poll failed")
				return
			}
			pos, _ := c.book.Position(symbol)
			c.recon.Sync(symbol, live, pos)
		})
	}()
}

func (c *Context) markDirty(symbol string) {
	if _, watched := c.watched[symbol]; !watched {
		return
	}
	c.dirty[symbol] = true
}

func (c *Context) setWatched(symbols []string) {
	fresh := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		fresh[s] = struct{}{}
	}
	for s := range c.watched {
		if _, keep := fresh[s]; !keep {
			c.recon.Forget(s)
			delete(c.fillCursor, s)
			delete(c.dirty, s)
		}
	}
	for s := range fresh {
		if _, known := c.watched[s]; !known && c.state == model.StateConnected {
			c.fetchMetadata(s)
		}
	}
	c.watched = fresh
	if c.state == model.StateConnected {
		for s := range fresh {
			c.markDirty(s)
			c.pollOrdersFor(s)
		}
	}
}

// fetchMetadata resolves the contract multiplier for symbol. Runs on the
// loop; the lookup is dispatched.
func (c *Context) fetchMetadata(symbol string) {
	if c.driver == nil {
		return
	}
	drv := c.driver
	go func() {
		ctx, cancel := c.commandCtx()
		defer cancel()
		meta, err := drv.Metadata(ctx, symbol)
		if err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"profile": c.profile,
				"symbol":  symbol,
			}).Warn("metadata lookup failed")
			return
		}
		if meta.ContractSize > 0 {
			c.book.SetMultiplier(symbol, meta.ContractSize)
		}
	}()
}

// stopCancelRelay adapts the reconciler's best-effort duplicate-stop cancel
// onto whatever driver is currently connected.
type stopCancelRelay struct{ c *Context }

// CancelStop always runs on the session loop (Sync is only invoked there),
// so the driver field is safe to read directly. The network call is
// dispatched.
func (r stopCancelRelay) CancelStop(symbol, orderID string) {
	if r.c.driver == nil {
		return
	}
	sc := r.c.driver.StopCanceler()
	if sc == nil {
		return
	}
	go sc.CancelStop(symbol, orderID)
}
