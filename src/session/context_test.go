package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradeterm/src/connectors"
	"tradeterm/src/events"
	"tradeterm/src/model"
	"tradeterm/src/orders"
)

func testConfig() Config {
	return Config{
		AccountPollInterval:   50 * time.Millisecond,
		TradePollInterval:     50 * time.Millisecond,
		OrderPollInterval:     50 * time.Millisecond,
		BackoffCeiling:        time.Second,
		ReconnectDelay:        30 * time.Millisecond,
		SocketReplyTimeout:    100 * time.Millisecond,
		SocketFailureCooldown: 100 * time.Millisecond,
		AuthRefreshWindow:     time.Second,
		FreshnessMaxAge:       time.Second,
		FreshnessBudget:       100 * time.Millisecond,
		CommandTimeout:        time.Second,
	}
}

type fakeDriver struct {
	mu          sync.Mutex
	connectErr  error
	hooks       Hooks
	connects    int
	disconnects int
	placed      []string
}

func (d *fakeDriver) Profile() model.ExchangeProfile { return model.ProfileKucoinSpot }

func (d *fakeDriver) Connect(ctx context.Context, proxyURL string, hooks Hooks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.connectErr != nil {
		return d.connectErr
	}
	d.hooks = hooks
	return nil
}

func (d *fakeDriver) Disconnect() {
	d.mu.Lock()
	d.disconnects++
	d.mu.Unlock()
}

func (d *fakeDriver) currentHooks() Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks
}

func (d *fakeDriver) stats() (connects, disconnects int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects, d.disconnects
}

func (d *fakeDriver) FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	return []model.Position{}, nil, nil
}

func (d *fakeDriver) FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error) {
	return nil, nil
}

func (d *fakeDriver) FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	return nil, nil
}

func (d *fakeDriver) PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	d.mu.Lock()
	d.placed = append(d.placed, symbol)
	d.mu.Unlock()
	return "order-1", nil
}

func (d *fakeDriver) CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	return "order-2", nil
}

func (d *fakeDriver) PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	return "order-3", nil
}

func (d *fakeDriver) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (d *fakeDriver) CancelAll(ctx context.Context, symbol string) error            { return nil }
func (d *fakeDriver) StopCanceler() orders.StopCanceler                             { return nil }

func (d *fakeDriver) Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error) {
	return connectors.MarketMeta{Symbol: symbol, ContractSize: 1}, nil
}

type stateRecorder struct {
	events.NopListener
	states   chan model.ConnState
	failures chan string
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{
		states:   make(chan model.ConnState, 32),
		failures: make(chan string, 32),
	}
}

func (r *stateRecorder) ConnectionStateChanged(profile model.ExchangeProfile, state model.ConnState, message string) {
	r.states <- state
}

func (r *stateRecorder) OrderFailed(profile model.ExchangeProfile, symbol, message string) {
	r.failures <- message
}

func (r *stateRecorder) waitState(t *testing.T, want model.ConnState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func newTestSession(t *testing.T, drv *fakeDriver) (*Context, *stateRecorder) {
	t.Helper()
	bus := events.NewBus()
	rec := newStateRecorder()
	bus.Register(rec)

	factory := func(profile model.ExchangeProfile, creds model.Credentials) (Driver, error) {
		return drv, nil
	}
	checker := NewProxyChecker()
	ctx := NewContext(model.ProfileKucoinSpot, testConfig(), bus, factory, checker, nil)
	return ctx, rec
}

func TestConnectLifecycle(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.SetCredentials(model.Credentials{APIKey: "k", APISecret: "s"})
	sess.Connect()

	rec.waitState(t, model.StateConnecting)
	rec.waitState(t, model.StateConnected)

	sess.Disconnect()
	rec.waitState(t, model.StateDisconnected)

	_, disconnects := drv.stats()
	require.Equal(t, 1, disconnects)

	// Second disconnect is idempotent: no further state transition.
	sess.Disconnect()
	select {
	case s := <-rec.states:
		t.Fatalf("unexpected state change after idempotent disconnect: %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectWithoutCredentials(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.Connect()
	rec.waitState(t, model.StateError)

	connects, _ := drv.stats()
	if connects != 0 {
		t.Fatalf("driver connect attempted without credentials: %d", connects)
	}
}

func TestReconnectAfterTransportDown(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.SetCredentials(model.Credentials{APIKey: "k", APISecret: "s"})
	sess.Connect()
	rec.waitState(t, model.StateConnected)

	drv.currentHooks().OnDown(errors.New("socket reset by peer"))
	rec.waitState(t, model.StateError)

	// The reconnect timer retries on its own.
	rec.waitState(t, model.StateConnected)

	connects, _ := drv.stats()
	require.GreaterOrEqual(t, connects, 2)
}

func TestStaleCallbackIgnoredAfterDisconnect(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.SetCredentials(model.Credentials{APIKey: "k", APISecret: "s"})
	sess.Connect()
	rec.waitState(t, model.StateConnected)

	stale := drv.currentHooks()
	sess.Disconnect()
	rec.waitState(t, model.StateDisconnected)

	// A transport-down callback from the torn-down generation must not flip
	// the session into Error or arm a reconnect.
	stale.OnDown(errors.New("late read error"))
	select {
	case s := <-rec.states:
		t.Fatalf("stale transport callback changed state to %v", s)
	case <-time.After(150 * time.Millisecond):
	}

	if st := sess.Status(); st.State != model.StateDisconnected {
		t.Fatalf("state = %v, want Disconnected", st.State)
	}
}

func TestConnectFailureLandsInError(t *testing.T) {
	drv := &fakeDriver{connectErr: errors.New("401 unauthorized")}
	sess, rec := newTestSession(t, drv)

	sess.SetCredentials(model.Credentials{APIKey: "bad", APISecret: "bad"})
	sess.Connect()

	rec.waitState(t, model.StateConnecting)
	rec.waitState(t, model.StateError)
}

func TestCommandsRejectedWhenDisconnected(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.PlaceLimitOrder("BTC-USDT", model.SideBuy, 50000, 1, 0)

	select {
	case msg := <-rec.failures:
		require.Contains(t, msg, "not connected")
	case <-time.After(time.Second):
		t.Fatal("no failure event for command while disconnected")
	}
}

func TestInvalidLimitOrderRejectedSynchronously(t *testing.T) {
	drv := &fakeDriver{}
	sess, rec := newTestSession(t, drv)

	sess.SetCredentials(model.Credentials{APIKey: "k", APISecret: "s"})
	sess.Connect()
	rec.waitState(t, model.StateConnected)

	sess.PlaceLimitOrder("BTC-USDT", model.SideBuy, -1, 1, 0)

	select {
	case msg := <-rec.failures:
		require.Contains(t, msg, "invalid limit order")
	case <-time.After(time.Second):
		t.Fatal("no failure event for invalid price")
	}

	drv.mu.Lock()
	placed := len(drv.placed)
	drv.mu.Unlock()
	require.Zero(t, placed, "invalid order must be rejected before any network call")
}

func TestManagerCreatesSessionOnFirstReference(t *testing.T) {
	bus := events.NewBus()
	factory := func(profile model.ExchangeProfile, creds model.Credentials) (Driver, error) {
		return &fakeDriver{}, nil
	}
	m := NewManager(testConfig(), bus, factory, nil)

	a := m.Session(model.ProfileMexcFutures)
	b := m.Session(model.ProfileMexcFutures)
	if a == nil || a != b {
		t.Fatalf("expected one stable context per profile, got %p and %p", a, b)
	}
	if m.Session("no-such-profile") != nil {
		t.Fatal("invalid profile must not create a context")
	}
	require.Len(t, m.Sessions(), 1)
}
