// REST + private push channel client for MEXC futures. REST requests are
// header-signed with hex(HMAC_SHA256(apiKey + timestamp + params)); the push
// channel delivers binary frames decoded by the wire package.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeterm/src/model"
	"tradeterm/src/orders"
	"tradeterm/src/wire"
)

type mexcAPIResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// MexcClient is the authenticated REST client for the mexc-futures profile.
type MexcClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client
	limiter   *rate.Limiter
}

func NewMexcClient(creds model.Credentials, cfg Config, proxyURL string) *MexcClient {
	httpClient := resty.New().
		SetBaseURL(cfg.MexcBaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
	if proxyURL != "" {
		httpClient.SetProxy(proxyURL)
	}

	return &MexcClient{
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		baseURL:   cfg.MexcBaseURL,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), cfg.RESTRateBurst),
	}
}

// BaseURL is the metadata-cache key for this client.
func (c *MexcClient) BaseURL() string { return c.baseURL }

// mexcSign computes hex(HMAC_SHA256(apiKey + timestamp + params)). For GET
// requests params is the key-sorted query string, for POST the raw JSON body.
func mexcSign(apiKey, secret, timestamp, params string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(apiKey + timestamp + params))
	return hex.EncodeToString(mac.Sum(nil))
}

func sortedQuery(query string) string {
	if query == "" {
		return ""
	}
	parts := strings.Split(query, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func (c *MexcClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*mexcAPIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params := sortedQuery(query)
	if body != nil {
		params = string(body)
	}
	sig := mexcSign(c.apiKey, c.apiSecret, timestamp, params)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("ApiKey", c.apiKey).
		SetHeader("Request-Time", timestamp).
		SetHeader("Signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("mexc %s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		return nil, &APIError{Exchange: "mexc", Status: resp.StatusCode(), Msg: string(raw)}
	}

	var apiResp mexcAPIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal mexc response: %w", err)
	}
	if !apiResp.Success {
		return nil, &APIError{Exchange: "mexc", Status: 200, Code: apiResp.Code, Msg: apiResp.Message}
	}
	return &apiResp, nil
}

type mexcPosition struct {
	Symbol       string  `json:"symbol"`
	PositionType int     `json:"positionType"` // 1 long, 2 short
	HoldVol      float64 `json:"holdVol"`
	HoldAvgPrice float64 `json:"holdAvgPrice"`
	Realised     float64 `json:"realised"`
}

// GetPositions returns open positions for the account.
func (c *MexcClient) GetPositions(ctx context.Context) ([]model.Position, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/private/position/open_positions", "", nil)
	if err != nil {
		return nil, err
	}

	var parsed []mexcPosition
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal mexc positions: %w", err)
	}

	var positions []model.Position
	for _, p := range parsed {
		if p.HoldVol == 0 {
			continue
		}
		side := model.SideBuy
		if p.PositionType == 2 {
			side = model.SideSell
		}
		positions = append(positions, model.Position{
			Symbol:      p.Symbol,
			Side:        side,
			Quantity:    p.HoldVol,
			EntryPrice:  p.HoldAvgPrice,
			RealizedPnl: p.Realised,
			HasPosition: true,
			UpdatedAt:   time.Now(),
		})
	}
	return positions, nil
}

// GetBalances returns account assets with nonzero equity.
func (c *MexcClient) GetBalances(ctx context.Context) ([]model.Balance, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/private/account/assets", "", nil)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Currency         string  `json:"currency"`
		AvailableBalance float64 `json:"availableBalance"`
		Equity           float64 `json:"equity"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal mexc assets: %w", err)
	}

	var balances []model.Balance
	for _, a := range parsed {
		if a.Equity == 0 {
			continue
		}
		balances = append(balances, model.Balance{
			Asset:     a.Currency,
			Available: a.AvailableBalance,
			Total:     a.Equity,
		})
	}
	return balances, nil
}

type mexcOrder struct {
	OrderID      string  `json:"orderId"`
	Symbol       string  `json:"symbol"`
	Side         int     `json:"side"` // 1 open long, 2 close short, 3 open short, 4 close long
	Price        float64 `json:"price"`
	Vol          float64 `json:"vol"`
	RemainVol    float64 `json:"remainVol"`
	ReduceOnly   bool    `json:"reduceOnly"`
	TriggerPrice float64 `json:"triggerPrice"`
	TriggerType  int     `json:"triggerType"` // 1 >= trigger, 2 <= trigger
	CreateTime   int64   `json:"createTime"`  // ms
}

func mexcOrderSide(code int) model.Side {
	// 1 open long / 4 close long are buys on the book only for opens;
	// closes trade on the opposite side.
	switch code {
	case 1, 2:
		return model.SideBuy
	default:
		return model.SideSell
	}
}

// GetActiveOrders returns live orders plus trigger orders for symbol.
func (c *MexcClient) GetActiveOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/private/order/list/open_orders/"+symbol, "", nil)
	if err != nil {
		return nil, err
	}

	var parsed []mexcOrder
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal mexc open orders: %w", err)
	}

	live := make([]orders.LiveOrder, 0, len(parsed))
	for _, o := range parsed {
		direction := 0
		switch o.TriggerType {
		case 1:
			direction = 1
		case 2:
			direction = -1
		}
		live = append(live, orders.LiveOrder{
			OrderID:          o.OrderID,
			Symbol:           o.Symbol,
			Side:             mexcOrderSide(o.Side),
			Price:            o.Price,
			Remaining:        o.RemainVol,
			ReduceOnly:       o.ReduceOnly,
			TriggerPrice:     o.TriggerPrice,
			TriggerDirection: direction,
			CreatedAt:        time.UnixMilli(o.CreateTime),
		})
	}
	return live, nil
}

func (c *MexcClient) PlaceLimitOrder(ctx context.Context, symbol string, side model.Side, price, qty float64, leverage int) (string, error) {
	sideCode := 1 // open long
	if side == model.SideSell {
		sideCode = 3 // open short
	}
	body, _ := json.Marshal(map[string]interface{}{
		"symbol":      symbol,
		"price":       price,
		"vol":         qty,
		"side":        sideCode,
		"type":        1, // limit
		"openType":    2, // cross
		"leverage":    leverage,
		"externalOid": uuid.NewString(),
	})
	resp, err := c.doRequest(ctx, "POST", "/api/v1/private/order/submit", "", body)
	if err != nil {
		return "", err
	}
	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &placed); err != nil {
		// Some deployments return the id as a bare number.
		var id int64
		if err2 := json.Unmarshal(resp.Data, &id); err2 != nil {
			return "", fmt.Errorf("unmarshal order reply: %w", err)
		}
		return strconv.FormatInt(id, 10), nil
	}
	return placed.OrderID, nil
}

// PlaceMarketClose closes qty of an existing position with a market order.
func (c *MexcClient) PlaceMarketClose(ctx context.Context, symbol string, posSide model.Side, qty float64) (string, error) {
	sideCode := 4 // close long
	if posSide == model.SideSell {
		sideCode = 2 // close short
	}
	body, _ := json.Marshal(map[string]interface{}{
		"symbol":      symbol,
		"vol":         qty,
		"side":        sideCode,
		"type":        5, // market
		"openType":    2,
		"reduceOnly":  true,
		"externalOid": uuid.NewString(),
	})
	resp, err := c.doRequest(ctx, "POST", "/api/v1/private/order/submit", "", body)
	if err != nil {
		return "", err
	}
	var id int64
	if err := json.Unmarshal(resp.Data, &id); err != nil {
		return "", nil
	}
	return strconv.FormatInt(id, 10), nil
}

// PlaceStopOrder arms a reduce-only trigger order closing the position side.
func (c *MexcClient) PlaceStopOrder(ctx context.Context, symbol string, posSide model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	// Closing a long triggers below for SL and above for TP; mirrored for
	// shorts.
	triggerType := 2 // price falls to trigger
	if (posSide == model.SideBuy) != isStopLoss {
		triggerType = 1 // price rises to trigger
	}
	sideCode := 4
	if posSide == model.SideSell {
		sideCode = 2
	}
	body, _ := json.Marshal(map[string]interface{}{
		"symbol":       symbol,
		"vol":          qty,
		"side":         sideCode,
		"triggerPrice": triggerPrice,
		"triggerType":  triggerType,
		"executeCycle": 2,
		"orderType":    5, // market on trigger
		"trend":        1,
		"reduceOnly":   true,
	})
	resp, err := c.doRequest(ctx, "POST", "/api/v1/private/planorder/place", "", body)
	if err != nil {
		return "", err
	}
	var id int64
	if err := json.Unmarshal(resp.Data, &id); err != nil {
		return "", nil
	}
	return strconv.FormatInt(id, 10), nil
}

func (c *MexcClient) CancelOrder(ctx context.Context, orderID string) error {
	body, _ := json.Marshal([]string{orderID})
	_, err := c.doRequest(ctx, "POST", "/api/v1/private/order/cancel", "", body)
	return err
}

func (c *MexcClient) CancelAll(ctx context.Context, symbol string) error {
	body, _ := json.Marshal(map[string]string{"symbol": symbol})
	_, err := c.doRequest(ctx, "POST", "/api/v1/private/order/cancel_all", "", body)
	return err
}

// CancelStop satisfies orders.StopCanceler for duplicate-stop cleanup.
func (c *MexcClient) CancelStop(symbol, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	body, _ := json.Marshal([]map[string]string{{"symbol": symbol, "orderId": orderID}})
	if _, err := c.doRequest(ctx, "POST", "/api/v1/private/planorder/cancel", "", body); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Warn("best-effort duplicate stop cancel failed")
	}
}

// FetchMarkets loads the contract table for the metadata cache.
func (c *MexcClient) FetchMarkets(ctx context.Context) (map[string]MarketMeta, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/contract/detail")
	if err != nil {
		return nil, fmt.Errorf("mexc contract detail: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, &APIError{Exchange: "mexc", Status: resp.StatusCode(), Msg: string(resp.Body())}
	}

	var parsed struct {
		Data []struct {
			Symbol       string  `json:"symbol"`
			ContractSize float64 `json:"contractSize"`
			PriceUnit    float64 `json:"priceUnit"`
			VolUnit      float64 `json:"volUnit"`
			SettleCoin   string  `json:"settleCoin"`
			PriceScale   int     `json:"priceScale"`
			VolScale     int     `json:"volScale"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal mexc contracts: %w", err)
	}

	table := make(map[string]MarketMeta, len(parsed.Data))
	for _, d := range parsed.Data {
		size := d.ContractSize
		if size <= 0 {
			size = 1
		}
		table[d.Symbol] = MarketMeta{
			Symbol:       d.Symbol,
			ContractSize: size,
			TickSize:     d.PriceUnit,
			LotSize:      d.VolUnit,
			SettleAsset:  d.SettleCoin,
			PricePrec:    d.PriceScale,
			QtyPrec:      d.VolScale,
		}
	}
	return table, nil
}

// ---------------------------------------------------------------------
// PRIVATE PUSH CHANNEL
// ---------------------------------------------------------------------

const (
	pushPingInterval     = 15 * time.Second
	pushHandshakeTimeout = 15 * time.Second
)

// MexcPush is the private binary push channel. Incoming binary frames are
// decoded by the wire package and handed to the frame handler; text frames
// carry login/subscribe acks and pongs.
type MexcPush struct {
	conn    *websocket.Conn
	handler func(*wire.Event)
	onDown  func(error)

	closeOnce sync.Once
	done      chan struct{}
}

// DialMexcPush opens, authenticates and subscribes the push channel. The
// handler runs on the channel's read loop and must not block.
func DialMexcPush(ctx context.Context, creds model.Credentials, cfg Config, proxyURL string,
	handler func(*wire.Event), onDown func(error)) (*MexcPush, error) {

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

	conn, _, err := dialer.DialContext(ctx, cfg.MexcWSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("push channel dial: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	login := map[string]interface{}{
		"method": "login",
		"param": map[string]string{
			"apiKey":    creds.APIKey,
			"reqTime":   timestamp,
			"signature": mexcSign(creds.APIKey, creds.APISecret, timestamp, ""),
		},
	}
	if err := conn.WriteJSON(login); err != nil {
		conn.Close()
		return nil, fmt.Errorf("push channel login: %w", err)
	}

	// Login ack arrives as a text frame before any binary traffic.
	conn.SetReadDeadline(time.Now().Add(pushHandshakeTimeout))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("push channel login ack: %w", err)
	}
	var ackMsg struct {
		Channel string `json:"channel"`
		Data    string `json:"data"`
	}
	if err := json.Unmarshal(ack, &ackMsg); err == nil && strings.Contains(ackMsg.Data, "fail") {
		conn.Close()
		return nil, fmt.Errorf("push channel login rejected: %s", ackMsg.Data)
	}
	conn.SetReadDeadline(time.Time{})

	p := &MexcPush{
		conn:    conn,
		handler: handler,
		onDown:  onDown,
		done:    make(chan struct{}),
	}
	go p.readLoop()
	go p.pingLoop()

	logger.Info("mexc push channel established")
	return p, nil
}

func (p *MexcPush) readLoop() {
	for {
		msgType, msg, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return // deliberate close
			default:
			}
			logger.WithError(err).Warn("push channel read failed")
			p.Close()
			if p.onDown != nil {
				p.onDown(err)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue // text acks and pongs
		}

		ev, err := wire.Decode(msg)
		if err != nil {
			logger.WithError(err).WithField("len", len(msg)).Warn("dropping undecodable push frame")
			continue
		}
		p.handler(ev)
	}
}

func (p *MexcPush) pingLoop() {
	ticker := time.NewTicker(pushPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
				logger.WithError(err).Debug("push channel ping failed")
				return
			}
		}
	}
}

// Close tears the channel down. Safe to call more than once.
func (p *MexcPush) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}
