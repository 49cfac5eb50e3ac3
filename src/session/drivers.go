package session

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/connectors"
	"tradeterm/src/model"
	"tradeterm/src/orders"
	"tradeterm/src/wire"
)

// NewDriverFactory builds the default factory covering every supported
// profile. The metadata cache is shared across drivers so identical base
// URLs coalesce.
func NewDriverFactory(connCfg connectors.Config, sessCfg Config, meta *connectors.MetaCache) DriverFactory {
	return func(profile model.ExchangeProfile, creds model.Credentials) (Driver, error) {
		switch profile {
		case model.ProfileMexcFutures:
			return newMexcDriver(creds, connCfg, meta), nil
		case model.ProfilePhemexFutures:
			return newPhemexDriver(creds, connCfg, meta), nil
		case model.ProfileKucoinSpot:
			return newKucoinDriver(creds, connCfg, meta), nil
		case model.ProfileHydraPerp:
			return newHydraDriver(creds, connCfg, sessCfg, meta), nil
		default:
			return nil, fmt.Errorf("unsupported profile %q", profile)
		}
	}
}

// ---------------------------------------------------------------------
// MEXC FUTURES
// ---------------------------------------------------------------------

type mexcDriver struct {
	creds  model.Credentials
	cfg    connectors.Config
	client *connectors.MexcClient
	meta   *connectors.MetaCache
	push   *connectors.MexcPush
}

func newMexcDriver(creds model.Credentials, cfg connectors.Config, meta *connectors.MetaCache) *mexcDriver {
	return &mexcDriver{creds: creds, cfg: cfg, meta: meta}
}

func (d *mexcDriver) Profile() model.ExchangeProfile { return model.ProfileMexcFutures }

func (d *mexcDriver) Connect(ctx context.Context, proxyURL string, hooks Hooks) error {
	d.client = connectors.NewMexcClient(d.creds, d.cfg, proxyURL)

	// Credential validation before opening the push channel.
	if _, err := d.client.GetBalances(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	push, err := connectors.DialMexcPush(ctx, d.creds, d.cfg, proxyURL,
		func(ev *wire.Event) { d.handleFrame(ev, hooks) },
		hooks.OnDown)
	if err != nil {
		return err
	}
	d.push = push
	return nil
}

// handleFrame converts decoded push frames into session hook calls.
func (d *mexcDriver) handleFrame(ev *wire.Event, hooks Hooks) {
	switch {
	case ev.Fill != nil:
		side := model.SideSell
		if ev.Fill.SideCode == 1 {
			side = model.SideBuy
		}
		hooks.OnFill(connectors.Fill{
			Symbol:      ev.Symbol,
			Side:        side,
			Price:       ev.Fill.Price,
			Quantity:    ev.Fill.Quantity,
			FeeCurrency: ev.Fill.FeeCurrency,
			FeeAmount:   ev.Fill.Fee,
			SettleAsset: "USDT",
			Time:        time.UnixMilli(ev.Fill.Timestamp),
		})
	case ev.Order != nil:
		// Order pushes are deltas; ask for a snapshot poll.
		hooks.OnDirty(ev.Symbol)
	case ev.Balance != nil:
		logger.WithFields(logger.Fields{
			"asset":     ev.Balance.Asset,
			"available": ev.Balance.Available,
		}).Debug("push balance update")
	}
}

func (d *mexcDriver) Disconnect() {
	if d.push != nil {
		d.push.Close()
		d.push = nil
	}
}

func (d *mexcDriver) FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	positions, err := d.client.GetPositions(ctx)
	if err != nil {
		return nil, nil, err
	}
	balances, err := d.client.GetBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	if positions == nil {
		// Non-nil means "snapshot authoritative" to the session, even when
		// empty.
		positions = []model.Position{}
	}
	return positions, balances, nil
}

func (d *mexcDriver) FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error) {
	// Fills arrive on the push channel; the poll path is not needed for
	// this profile.
	return nil, nil
}

func (d *mexcDriver) FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	return d.client.GetActiveOrders(ctx, symbol)
}

func (d *mexcDriver) PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	return d.client.PlaceLimitOrder(ctx, symbol, side, price, qty, leverage)
}

func (d *mexcDriver) CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	return d.client.PlaceMarketClose(ctx, symbol, posSide, qty)
}

func (d *mexcDriver) PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	return d.client.PlaceStopOrder(ctx, symbol, posSide, triggerPrice, qty, isStopLoss)
}

func (d *mexcDriver) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return d.client.CancelOrder(ctx, orderID)
}

func (d *mexcDriver) CancelAll(ctx context.Context, symbol string) error {
	return d.client.CancelAll(ctx, symbol)
}

func (d *mexcDriver) StopCanceler() orders.StopCanceler { return d.client }

func (d *mexcDriver) Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error) {
	return d.meta.Lookup(ctx, d.client.BaseURL(), symbol, d.client.FetchMarkets)
}

// ---------------------------------------------------------------------
// PHEMEX FUTURES
// ---------------------------------------------------------------------

type phemexDriver struct {
	creds  model.Credentials
	cfg    connectors.Config
	client *connectors.PhemexClient
	meta   *connectors.MetaCache
	stream *connectors.PhemexStream
}

func newPhemexDriver(creds model.Credentials, cfg connectors.Config, meta *connectors.MetaCache) *phemexDriver {
	return &phemexDriver{creds: creds, cfg: cfg, meta: meta}
}

func (d *phemexDriver) Profile() model.ExchangeProfile { return model.ProfilePhemexFutures }

func (d *phemexDriver) Connect(ctx context.Context, proxyURL string, hooks Hooks) error {
	d.client = connectors.NewPhemexClient(d.creds, d.cfg, proxyURL)

	if _, _, err := d.client.GetPositions(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	stream, err := connectors.DialPhemexStream(ctx, d.creds, d.cfg, proxyURL,
		hooks.OnFill, hooks.OnDirty, hooks.OnDown)
	if err != nil {
		return err
	}
	d.stream = stream
	return nil
}

func (d *phemexDriver) Disconnect() {
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
}

func (d *phemexDriver) FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	positions, balances, err := d.client.GetPositions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, balances, nil
}

func (d *phemexDriver) FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error) {
	return d.client.GetFills(ctx, symbol)
}

func (d *phemexDriver) FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	return d.client.GetActiveOrders(ctx, symbol)
}

func (d *phemexDriver) PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	if leverage > 0 {
		if err := d.client.SetLeverage(ctx, symbol, leverage); err != nil {
			logger.WithError(err).WithField("symbol", symbol).Warn("leverage update failed, placing anyway")
		}
	}
	return d.client.PlaceLimitOrder(ctx, symbol, side, price, qty)
}

func (d *phemexDriver) CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	return d.client.PlaceMarketClose(ctx, symbol, posSide.Opposite(), qty)
}

func (d *phemexDriver) PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	return d.client.PlaceStopOrder(ctx, symbol, posSide.Opposite(), triggerPrice, qty, isStopLoss)
}

func (d *phemexDriver) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return d.client.CancelOrder(ctx, symbol, orderID)
}

func (d *phemexDriver) CancelAll(ctx context.Context, symbol string) error {
	return d.client.CancelAll(ctx, symbol)
}

func (d *phemexDriver) StopCanceler() orders.StopCanceler { return d.client }

func (d *phemexDriver) Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error) {
	return d.meta.Lookup(ctx, d.client.BaseURL(), symbol, d.client.FetchMarkets)
}

// ---------------------------------------------------------------------
// KUCOIN SPOT
// ---------------------------------------------------------------------

type kucoinDriver struct {
	creds  model.Credentials
	cfg    connectors.Config
	client *connectors.KucoinClient
	meta   *connectors.MetaCache
}

func newKucoinDriver(creds model.Credentials, cfg connectors.Config, meta *connectors.MetaCache) *kucoinDriver {
	return &kucoinDriver{creds: creds, cfg: cfg, meta: meta}
}

func (d *kucoinDriver) Profile() model.ExchangeProfile { return model.ProfileKucoinSpot }

func (d *kucoinDriver) Connect(ctx context.Context, proxyURL string, hooks Hooks) error {
	d.client = connectors.NewKucoinClient(d.creds, d.cfg, proxyURL)
	if err := d.client.TestConnection(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}
	return nil
}

// Disconnect is a no-op: the spot profile is poll-only.
func (d *kucoinDriver) Disconnect() {}

func (d *kucoinDriver) FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	balances, err := d.client.GetBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, balances, nil
}

func (d *kucoinDriver) FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error) {
	return d.client.GetFills(ctx, symbol)
}

func (d *kucoinDriver) FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	return d.client.GetActiveOrders(ctx, symbol)
}

func (d *kucoinDriver) PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	return d.client.PlaceLimitOrder(ctx, symbol, side, price, qty)
}

func (d *kucoinDriver) CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	return d.client.PlaceMarketOrder(ctx, symbol, posSide.Opposite(), qty)
}

func (d *kucoinDriver) PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	return d.client.PlaceStopOrder(ctx, symbol, posSide.Opposite(), triggerPrice, qty, isStopLoss)
}

func (d *kucoinDriver) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return d.client.CancelOrder(ctx, orderID)
}

func (d *kucoinDriver) CancelAll(ctx context.Context, symbol string) error {
	return d.client.CancelAll(ctx, symbol)
}

func (d *kucoinDriver) StopCanceler() orders.StopCanceler { return d.client }

func (d *kucoinDriver) Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error) {
	return d.meta.Lookup(ctx, d.client.BaseURL(), symbol, d.client.FetchMarkets)
}
