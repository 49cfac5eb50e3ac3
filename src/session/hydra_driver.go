package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/backoff"
	"tradeterm/src/connectors"
	"tradeterm/src/model"
	"tradeterm/src/nonce"
	"tradeterm/src/orders"
	"tradeterm/src/signer"
	"tradeterm/src/txsend"
)

// hydraOrderTTL bounds how long a signed create-order payload stays valid on
// the exchange side.
const hydraOrderTTL = 30 * time.Second

// hydraDriver binds the signer, the nonce sequencer and the dual-transport
// sender into one Driver. The session never sees nonces or signatures; it
// issues the same commands it issues to the CEX drivers.
type hydraDriver struct {
	creds   model.Credentials
	connCfg connectors.Config
	sessCfg Config
	meta    *connectors.MetaCache

	client *connectors.HydraClient
	seq    *nonce.Sequencer
	sender *txsend.Sender

	// authRefresh throttles token re-mints when every in-flight call sees
	// the same stale token at once.
	authRefresh *backoff.Throttle

	// signMu serializes signer calls: signed bytes are borrowed and must be
	// copied before the next signature.
	signMu sync.Mutex
	signer signer.Signer

	// sockMu guards the socket pointer; the driver itself is the sender's
	// SocketWriter and delegates to whichever socket is currently alive.
	sockMu   sync.Mutex
	sock     *connectors.HydraSocket
	proxyURL string

	closeOnce sync.Once
	done      chan struct{}
}

func newHydraDriver(creds model.Credentials, connCfg connectors.Config, sessCfg Config, meta *connectors.MetaCache) *hydraDriver {
	return &hydraDriver{
		creds:       creds,
		connCfg:     connCfg,
		sessCfg:     sessCfg,
		meta:        meta,
		signer:      signer.NewLocal(),
		authRefresh: backoff.NewThrottle(sessCfg.AuthRefreshWindow),
		done:        make(chan struct{}),
	}
}

func (d *hydraDriver) Profile() model.ExchangeProfile { return model.ProfileHydraPerp }

func (d *hydraDriver) Connect(ctx context.Context, proxyURL string, hooks Hooks) error {
	if err := d.signer.CreateClient(d.creds.PrivateKey, d.creds.AccountID); err != nil {
		return fmt.Errorf("signer setup: %w", err)
	}

	d.proxyURL = proxyURL
	d.client = connectors.NewHydraClient(d.creds, d.connCfg, proxyURL)
	d.seq = nonce.NewSequencer(d.client.FetchNonce)
	d.sender = txsend.NewSender(d, d.client, d.sessCfg.SocketReplyTimeout, d.sessCfg.SocketFailureCooldown)

	if err := d.mintAuthToken(); err != nil {
		return err
	}

	// The nonce fetch doubles as the credential check: it fails on a bad
	// account id or a rejected token.
	if _, err := d.client.FetchNonce(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	if err := d.dialSocket(ctx); err != nil {
		// The HTTP path alone keeps the session alive; the socket retries
		// in the background.
		logger.WithError(err).Warn("tx socket unavailable at connect, continuing over http")
		go d.redialLoop()
	}
	return nil
}

// mintAuthToken signs a fresh token and installs it on the HTTP client. The
// client copies the borrowed bytes.
func (d *hydraDriver) mintAuthToken() error {
	d.signMu.Lock()
	defer d.signMu.Unlock()

	token, err := d.signer.CreateAuthToken(connectors.AuthExpiry())
	if err != nil {
		return fmt.Errorf("mint auth token: %w", err)
	}
	d.client.SetAuthToken(token)
	return nil
}

func (d *hydraDriver) dialSocket(ctx context.Context) error {
	d.signMu.Lock()
	token, err := d.signer.CreateAuthToken(connectors.AuthExpiry())
	if err != nil {
		d.signMu.Unlock()
		return fmt.Errorf("mint socket token: %w", err)
	}
	tokenCopy := append([]byte(nil), token...)
	d.signMu.Unlock()

	sock, err := connectors.DialHydraSocket(ctx, d.connCfg, d.proxyURL, tokenCopy,
		d.sender.HandleSocketReply, d.onSocketDown)
	if err != nil {
		return err
	}

	d.sockMu.Lock()
	d.sock = sock
	d.sockMu.Unlock()
	return nil
}

// onSocketDown flushes outstanding submissions to HTTP and starts redialing.
// The session stays connected: HTTP carries everything meanwhile.
func (d *hydraDriver) onSocketDown(err error) {
	d.sockMu.Lock()
	d.sock = nil
	d.sockMu.Unlock()

	d.sender.HandleSocketDown(err)

	select {
	case <-d.done:
	default:
		go d.redialLoop()
	}
}

func (d *hydraDriver) redialLoop() {
	ticker := time.NewTicker(d.sessCfg.SocketFailureCooldown)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.sessCfg.CommandTimeout)
			err := d.dialSocket(ctx)
			cancel()
			if err == nil {
				logger.Info("tx socket re-established")
				return
			}
			logger.WithError(err).Debug("tx socket redial failed")
		}
	}
}

// Ready and Send make the driver the sender's SocketWriter, delegating to the
// current socket.
func (d *hydraDriver) Ready() bool {
	d.sockMu.Lock()
	defer d.sockMu.Unlock()
	return d.sock != nil && d.sock.Ready()
}

func (d *hydraDriver) Send(correlationID string, payload []byte) error {
	d.sockMu.Lock()
	sock := d.sock
	d.sockMu.Unlock()
	if sock == nil {
		return fmt.Errorf("tx socket not connected")
	}
	return sock.Send(correlationID, payload)
}

func (d *hydraDriver) Disconnect() {
	d.closeOnce.Do(func() { close(d.done) })
	d.sockMu.Lock()
	sock := d.sock
	d.sock = nil
	d.sockMu.Unlock()
	if sock != nil {
		sock.Close()
	}
	d.authRefresh.Reset()
}

type hydraTxReply struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// submit signs nothing itself: it takes an already signed payload copy, runs
// it through the dual-transport sender and waits for the single resolution.
// A failed submission invalidates the nonce cursor.
func (d *hydraDriver) submit(ctx context.Context, payload []byte) (hydraTxReply, error) {
	resultCh := make(chan struct {
		res txsend.Result
		err error
	}, 1)
	d.sender.Send(ctx, payload, func(res txsend.Result, err error) {
		resultCh <- struct {
			res txsend.Result
			err error
		}{res, err}
	})

	var reply hydraTxReply
	select {
	case out := <-resultCh:
		if out.err != nil {
			d.seq.Invalidate()
			if connectors.IsAuthStale(out.err) && d.authRefresh.Allow() {
				if mintErr := d.mintAuthToken(); mintErr != nil {
					logger.WithError(mintErr).Error("auth token refresh failed")
				} else {
					logger.Info("auth token refreshed after stale-auth response")
				}
			}
			return reply, out.err
		}
		if err := json.Unmarshal(out.res.Body, &reply); err != nil {
			return reply, fmt.Errorf("unmarshal tx reply: %w", err)
		}
		if reply.Error != "" {
			d.seq.Invalidate()
			return reply, fmt.Errorf("tx rejected: %s", reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return reply, fmt.Errorf("tx submission canceled: %w", ctx.Err())
	}
}

// signAndCopy serializes the borrowed signer output into a caller-owned copy.
func (d *hydraDriver) signAndCopy(sign func() ([]byte, error)) ([]byte, error) {
	d.signMu.Lock()
	defer d.signMu.Unlock()
	payload, err := sign()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), payload...), nil
}

func (d *hydraDriver) FetchPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	positions, err := d.client.GetPositions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil, nil
}

func (d *hydraDriver) FetchFills(ctx context.Context, symbol string) ([]connectors.Fill, error) {
	return d.client.GetFills(ctx, symbol)
}

func (d *hydraDriver) FetchOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	return d.client.GetActiveOrders(ctx, symbol)
}

func (d *hydraDriver) PlaceLimit(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	if leverage > 0 {
		if err := d.updateLeverage(ctx, symbol, leverage); err != nil {
			logger.WithError(err).WithField("symbol", symbol).Warn("leverage update failed, placing anyway")
		}
	}

	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return "", err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignCreateOrder(signer.CreateOrderTx{
			AccountID: d.creds.AccountID,
			Symbol:    symbol,
			IsBuy:     side == model.SideBuy,
			Price:     price,
			Quantity:  qty,
			Nonce:     n,
			ExpiresAt: time.Now().Add(hydraOrderTTL).Unix(),
		})
	})
	if err != nil {
		return "", err
	}
	reply, err := d.submit(ctx, payload)
	if err != nil {
		return "", err
	}
	return reply.OrderID, nil
}

func (d *hydraDriver) CloseMarket(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return "", err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignCreateOrder(signer.CreateOrderTx{
			AccountID:  d.creds.AccountID,
			Symbol:     symbol,
			IsBuy:      posSide.Opposite() == model.SideBuy,
			Quantity:   qty,
			ReduceOnly: true,
			Nonce:      n,
			ExpiresAt:  time.Now().Add(hydraOrderTTL).Unix(),
		})
	})
	if err != nil {
		return "", err
	}
	reply, err := d.submit(ctx, payload)
	if err != nil {
		return "", err
	}
	return reply.OrderID, nil
}

func (d *hydraDriver) PlaceStop(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return "", err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignCreateOrder(signer.CreateOrderTx{
			AccountID:  d.creds.AccountID,
			Symbol:     symbol,
			IsBuy:      posSide.Opposite() == model.SideBuy,
			Quantity:   qty,
			ReduceOnly: true,
			TriggerPx:  triggerPrice,
			Nonce:      n,
			ExpiresAt:  time.Now().Add(hydraOrderTTL).Unix(),
		})
	})
	if err != nil {
		return "", err
	}
	reply, err := d.submit(ctx, payload)
	if err != nil {
		return "", err
	}
	return reply.OrderID, nil
}

func (d *hydraDriver) CancelOrder(ctx context.Context, symbol, orderID string) error {
	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignCancelOrder(signer.CancelOrderTx{
			AccountID: d.creds.AccountID,
			Symbol:    symbol,
			OrderID:   orderID,
			Nonce:     n,
		})
	})
	if err != nil {
		return err
	}
	_, err = d.submit(ctx, payload)
	return err
}

func (d *hydraDriver) CancelAll(ctx context.Context, symbol string) error {
	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignCancelAllOrders(signer.CancelAllTx{
			AccountID: d.creds.AccountID,
			Symbol:    symbol,
			Nonce:     n,
		})
	})
	if err != nil {
		return err
	}
	_, err = d.submit(ctx, payload)
	return err
}

func (d *hydraDriver) updateLeverage(ctx context.Context, symbol string, leverage int) error {
	n, err := d.seq.Reserve(ctx)
	if err != nil {
		return err
	}
	payload, err := d.signAndCopy(func() ([]byte, error) {
		return d.signer.SignUpdateLeverage(signer.UpdateLeverageTx{
			AccountID: d.creds.AccountID,
			Symbol:    symbol,
			Leverage:  leverage,
			Nonce:     n,
		})
	})
	if err != nil {
		return err
	}
	_, err = d.submit(ctx, payload)
	return err
}

// CancelStop satisfies the reconciler's StopCanceler with a bounded context
// of its own: duplicate-stop cleanup runs outside any command context.
func (d *hydraDriver) CancelStop(symbol, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sessCfg.CommandTimeout)
	defer cancel()
	if err := d.CancelOrder(ctx, symbol, orderID); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Warn("duplicate stop cancel failed")
	}
}

func (d *hydraDriver) StopCanceler() orders.StopCanceler { return d }

func (d *hydraDriver) Metadata(ctx context.Context, symbol string) (connectors.MarketMeta, error) {
	return d.meta.Lookup(ctx, d.client.BaseURL(), symbol, d.client.FetchMarkets)
}
