// Connector for the hydra-perp DEX: a persistent tx socket for signed
// submissions, an HTTP fallback path for the same payloads, nonce fetch for
// the sequencer and the token-authenticated REST reads.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeterm/src/model"
	"tradeterm/src/orders"
)

// authTokenTTL is how long a freshly minted auth token is requested for.
const authTokenTTL = 15 * time.Minute

// HydraSocket is the persistent signed-tx socket. It satisfies the sender's
// SocketWriter contract: Ready turns true once the server acks the auth
// token, and every Send carries the sender's correlation id.
type HydraSocket struct {
	conn    *websocket.Conn
	onReply func(correlationID string, body []byte)
	onDown  func(error)

	mu    sync.Mutex
	ready bool

	closeOnce sync.Once
	done      chan struct{}
}

type hydraSocketFrame struct {
	Type string          `json:"type"` // ready / reply / error
	ID   string          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
	Msg  string          `json:"msg,omitempty"`
}

// DialHydraSocket connects and authenticates the tx socket. onReply and
// onDown are invoked from the read loop; the session wires them to the
// dual-transport sender.
func DialHydraSocket(ctx context.Context, cfg Config, proxyURL string, authToken []byte,
	onReply func(string, []byte), onDown func(error)) (*HydraSocket, error) {

	dialer := websocket.Dialer{
		HandshakeTimeout: pushHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if proxyURL != "" {
		proxy, err := parseProxyURL(proxyURL)
		if err != nil {
			return nil, err
		}
		dialer.Proxy = proxy
	}

	conn, _, err := dialer.DialContext(ctx, cfg.HydraWSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tx socket dial: %w", err)
	}

	auth := map[string]interface{}{"type": "auth", "token": json.RawMessage(authToken)}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tx socket auth write: %w", err)
	}

	s := &HydraSocket{
		conn:    conn,
		onReply: onReply,
		onDown:  onDown,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Ready reports whether the server has acked the auth token and accepts
// signed traffic.
func (s *HydraSocket) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Send writes one signed payload tagged with the correlation id.
func (s *HydraSocket) Send(correlationID string, payload []byte) error {
	frame := map[string]interface{}{
		"type":    "tx",
		"id":      correlationID,
		"payload": json.RawMessage(payload),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("tx socket write: %w", err)
	}
	return nil
}

func (s *HydraSocket) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.WithError(err).Warn("tx socket read failed")
			s.Close()
			if s.onDown != nil {
				s.onDown(err)
			}
			return
		}

		var frame hydraSocketFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			logger.WithError(err).Debug("dropping malformed tx socket frame")
			continue
		}

		switch frame.Type {
		case "ready":
			s.mu.Lock()
			s.ready = true
			s.mu.Unlock()
			logger.Info("tx socket ready for signed traffic")
		case "reply":
			if s.onReply != nil {
				s.onReply(frame.ID, frame.Body)
			}
		case "error":
			logger.WithField("msg", frame.Msg).Warn("tx socket server error frame")
		}
	}
}

// Close tears the socket down. Safe to call more than once.
func (s *HydraSocket) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}

// HydraClient is the HTTP side of the hydra-perp profile: the tx fallback
// path, nonce fetch and authenticated reads. The auth token is replaced by
// the session's throttled refresh.
type HydraClient struct {
	baseURL    string
	accountID  string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu        sync.RWMutex
	authToken []byte
}

func NewHydraClient(creds model.Credentials, cfg Config, proxyURL string) *HydraClient {
	transport := http.DefaultTransport
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
	return &HydraClient{
		baseURL:   cfg.HydraBaseURL,
		accountID: creds.AccountID,
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), cfg.RESTRateBurst),
	}
}

func (c *HydraClient) BaseURL() string { return c.baseURL }

// SetAuthToken installs a freshly signed token. The token bytes are copied:
// signer output is only borrowed.
func (c *HydraClient) SetAuthToken(token []byte) {
	c.mu.Lock()
	c.authToken = append(c.authToken[:0], token...)
	c.mu.Unlock()
}

func (c *HydraClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return string(c.authToken)
}

// Submit posts one signed payload, the HTTP leg of the dual-transport
// sender.
func (c *HydraClient) Submit(ctx context.Context, payload []byte) ([]byte, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/tx", payload)
}

func (c *HydraClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hydra %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Exchange: "hydra", Status: resp.StatusCode, Msg: string(respBody)}
	}
	return respBody, nil
}

// FetchNonce loads the next nonce for the signing account. Plugged into the
// sequencer as its refresh round-trip.
func (c *HydraClient) FetchNonce(ctx context.Context) (uint64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+c.accountID+"/nonce", nil)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("unmarshal nonce: %w", err)
	}
	return parsed.Nonce, nil
}

type hydraPosition struct {
	Symbol     string `json:"symbol"`
	IsLong     bool   `json:"is_long"`
	Size       string `json:"size"`
	EntryPrice string `json:"entry_price"`
	Realized   string `json:"realized_pnl"`
}

// GetPositions returns the account's open positions.
func (c *HydraClient) GetPositions(ctx context.Context) ([]model.Position, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+c.accountID+"/positions", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Positions []hydraPosition `json:"positions"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal hydra positions: %w", err)
	}

	var positions []model.Position
	for _, p := range parsed.Positions {
		qty, _ := strconv.ParseFloat(p.Size, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		realized, _ := strconv.ParseFloat(p.Realized, 64)
		side := model.SideSell
		if p.IsLong {
			side = model.SideBuy
		}
		positions = append(positions, model.Position{
			Symbol:      p.Symbol,
			Side:        side,
			Quantity:    qty,
			EntryPrice:  entry,
			RealizedPnl: realized,
			Multiplier:  1,
			HasPosition: true,
			UpdatedAt:   time.Now(),
		})
	}
	return positions, nil
}

type hydraOrder struct {
	OrderID    string `json:"order_id"`
	Symbol     string `json:"symbol"`
	IsBuy      bool   `json:"is_buy"`
	Price      string `json:"price"`
	Remaining  string `json:"remaining"`
	ReduceOnly bool   `json:"reduce_only"`
	TriggerPx  string `json:"trigger_px"`
	CreatedAt  int64  `json:"created_at"` // unix seconds
}

// GetActiveOrders returns the live orders for symbol in reconciler form.
func (c *HydraClient) GetActiveOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	body, err := c.doRequest(ctx, http.MethodGet,
		"/v1/accounts/"+c.accountID+"/orders?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Orders []hydraOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal hydra orders: %w", err)
	}

	live := make([]orders.LiveOrder, 0, len(parsed.Orders))
	for _, o := range parsed.Orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		remaining, _ := strconv.ParseFloat(o.Remaining, 64)
		trigger, _ := strconv.ParseFloat(o.TriggerPx, 64)
		side := model.SideSell
		if o.IsBuy {
			side = model.SideBuy
		}
		live = append(live, orders.LiveOrder{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			Side:         side,
			Price:        price,
			Remaining:    remaining,
			ReduceOnly:   o.ReduceOnly,
			TriggerPrice: trigger,
			CreatedAt:    time.Unix(o.CreatedAt, 0),
		})
	}
	return live, nil
}

type hydraFill struct {
	Symbol    string `json:"symbol"`
	IsBuy     bool   `json:"is_buy"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	FeeAsset  string `json:"fee_asset"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// GetFills returns recent executions for symbol, oldest first.
func (c *HydraClient) GetFills(ctx context.Context, symbol string) ([]Fill, error) {
	body, err := c.doRequest(ctx, http.MethodGet,
		"/v1/accounts/"+c.accountID+"/fills?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Fills []hydraFill `json:"fills"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal hydra fills: %w", err)
	}

	fills := make([]Fill, 0, len(parsed.Fills))
	for _, f := range parsed.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		size, _ := strconv.ParseFloat(f.Size, 64)
		fee, _ := strconv.ParseFloat(f.Fee, 64)
		side := model.SideSell
		if f.IsBuy {
			side = model.SideBuy
		}
		fills = append(fills, Fill{
			Symbol:      f.Symbol,
			Side:        side,
			Price:       price,
			Quantity:    size,
			FeeCurrency: f.FeeAsset,
			FeeAmount:   fee,
			SettleAsset: f.FeeAsset,
			Time:        time.Unix(f.Timestamp, 0),
		})
	}
	return fills, nil
}

// FetchMarkets loads the instrument table for the metadata cache.
func (c *HydraClient) FetchMarkets(ctx context.Context) (map[string]MarketMeta, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/markets", nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Markets []struct {
			Symbol      string `json:"symbol"`
			TickSize    string `json:"tick_size"`
			LotSize     string `json:"lot_size"`
			SettleAsset string `json:"settle_asset"`
		} `json:"markets"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal hydra markets: %w", err)
	}

	table := make(map[string]MarketMeta, len(parsed.Markets))
	for _, m := range parsed.Markets {
		tick, _ := strconv.ParseFloat(m.TickSize, 64)
		lot, _ := strconv.ParseFloat(m.LotSize, 64)
		table[m.Symbol] = MarketMeta{
			Symbol:       m.Symbol,
			ContractSize: 1,
			TickSize:     tick,
			LotSize:      lot,
			SettleAsset:  m.SettleAsset,
		}
	}
	return table, nil
}

// AuthExpiry returns the expiry instant for a token minted now.
func AuthExpiry() int64 {
	return time.Now().Add(authTokenTTL).Unix()
}
