package session

import (
	"context"

	"tradeterm/src/connectors"
	"tradeterm/src/model"
	"tradeterm/src/orders"
)

// Hooks are the callbacks a driver fires from its transport goroutines.
// They post messages into the owning session's run loop and never block.
type Hooks struct {
	// OnFill delivers one streamed execution.
	OnFill func(fill connectors.Fill)
	// OnOrders delivers a streamed live-order snapshot for one symbol.
	OnOrders func(symbol string, live []orders.LiveOrder)
	// OnDirty marks a symbol's order state stale, requesting a prompt poll.
	OnDirty func(symbol string)
	// OnDown reports the transport died after a successful Connect.
	OnDown func(err error)
}

// Driver is the per-profile exchange binding. Connect performs the
// profile-specific handshake (credential validation, push-channel or signer
// session); the session state machine drives everything else through it.
//
// All methods except Connect/Disconnect must be safe to call from the
// session's poll goroutines.
type Driver interface {
	Profile() model.ExchangeProfile

	Connect(ctx context.Context, proxyURL string, hooks Hooks) error
	Disconnect()

	FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error)
	FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error)
	FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error)

	PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error)
	CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error)
	PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error

	// StopCanceler is handed to the order reconciler for duplicate-stop
	// cleanup.
	StopCanceler() orders.StopCanceler
	// Metadata resolves contract size and sizing steps for a symbol.
	Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error)
}

// DriverFactory builds a profile driver from freshly set credentials.
type DriverFactory func(profile model.ExchangeProfile, creds model.Credentials) (Driver, error)
