// REST client for Phemex USDT-M futures. Resty with internal retry on
// transient status codes; every request is HMAC-SHA256 header-signed.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeterm/src/model"
	"tradeterm/src/orders"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

type phemexAPIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// PhemexClient is the authenticated REST client for the phemex-futures
// profile.
type PhemexClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client
	limiter   *rate.Limiter
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}

func NewPhemexClient(creds model.Credentials, cfg Config, proxyURL string) *PhemexClient {
	httpClient := resty.New().
		SetBaseURL(cfg.PhemexBaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
	if proxyURL != "" {
		httpClient.SetProxy(proxyURL)
	}

	return &PhemexClient{
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		baseURL:   cfg.PhemexBaseURL,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), cfg.RESTRateBurst),
	}
}

// BaseURL is the metadata-cache key for this client.
func (c *PhemexClient) BaseURL() string { return c.baseURL }

// phemexSign computes hex(HMAC_SHA256(path + query + expiry + body)).
func phemexSign(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *PhemexClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*phemexAPIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := phemexSign(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("phemex %s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		return nil, &APIError{Exchange: "phemex", Status: resp.StatusCode(), Msg: string(raw)}
	}

	var apiResp phemexAPIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal phemex response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, &APIError{Exchange: "phemex", Status: 200, Code: apiResp.Code, Msg: GetErrorMsg(apiResp.Code)}
	}
	return &apiResp, nil
}

type phemexPositions struct {
	Account struct {
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
	} `json:"account"`
	Positions []struct {
		Symbol          string `json:"symbol"`
		Side            string `json:"side"`
		SizeRq          string `json:"sizeRq"`
		AvgEntryPriceRp string `json:"avgEntryPriceRp"`
		CurTermRealPnl  string `json:"curTermRealisedPnlRv"`
	} `json:"positions"`
}

// GetPositions returns open positions and the account balance.
func (c *PhemexClient) GetPositions(ctx context.Context) ([]model.Position, []model.Balance, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-accounts/positions", "currency=USDT", nil)
	if err != nil {
		return nil, nil, err
	}

	var parsed phemexPositions
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, nil, fmt.Errorf("unmarshal phemex positions: %w", err)
	}

	var positions []model.Position
	for _, p := range parsed.Positions {
		qty, _ := strconv.ParseFloat(p.SizeRq, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgEntryPriceRp, 64)
		realized, _ := strconv.ParseFloat(p.CurTermRealPnl, 64)
		side := model.SideBuy
		if strings.EqualFold(p.Side, "Sell") {
			side = model.SideSell
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

	var balances []model.Balance
	if bal, err := strconv.ParseFloat(parsed.Account.AccountBalanceRv, 64); err == nil {
		balances = append(balances, model.Balance{
			Asset:     parsed.Account.Currency,
			Available: bal,
			Total:     bal,
		})
	}
	return positions, balances, nil
}

type phemexOrder struct {
	OrderID       string `json:"orderID"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	PriceRp       string `json:"priceRp"`
	OrderQtyRq    string `json:"orderQtyRq"`
	LeavesQtyRq   string `json:"leavesQtyRq"`
	OrdType       string `json:"ordType"`
	ReduceOnly    bool   `json:"reduceOnly"`
	StopPxRp      string `json:"stopPxRp"`
	TriggerType   string `json:"triggerType"`
	StopDirection string `json:"stopDirection"` // Rising / Falling
	ActionTimeNs  int64  `json:"actionTimeNs"`
}

// GetActiveOrders returns the live orders for symbol in reconciler form.
func (c *PhemexClient) GetActiveOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-orders/activeList", fmt.Sprintf("symbol=%s", symbol), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Rows []phemexOrder `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal phemex active orders: %w", err)
	}

	live := make([]orders.LiveOrder, 0, len(parsed.Rows))
	for _, o := range parsed.Rows {
		price, _ := strconv.ParseFloat(o.PriceRp, 64)
		leaves, _ := strconv.ParseFloat(o.LeavesQtyRq, 64)
		trigger, _ := strconv.ParseFloat(o.StopPxRp, 64)

		side := model.SideBuy
		if strings.EqualFold(o.Side, "Sell") {
			side = model.SideSell
		}
		direction := 0
		switch o.StopDirection {
		case "Rising":
			direction = 1
		case "Falling":
			direction = -1
		}
		hint := model.StopKindUnknown
		switch o.OrdType {
		case "Stop", "StopLimit":
			hint = model.StopKindStopLoss
		case "MarketIfTouched", "LimitIfTouched":
			hint = model.StopKindTakeProfit
		}

		live = append(live, orders.LiveOrder{
			OrderID:          o.OrderID,
			Symbol:           o.Symbol,
			Side:             side,
			Price:            price,
			Remaining:        leaves,
			ReduceOnly:       o.ReduceOnly,
			TriggerPrice:     trigger,
			TriggerDirection: direction,
			TypeHint:         hint,
			CreatedAt:        time.Unix(0, o.ActionTimeNs),
		})
	}
	return live, nil
}

// PlaceLimitOrder places a GTC limit order and returns the exchange order id.
func (c *PhemexClient) PlaceLimitOrder(ctx context.Context, symbol string, side model.Side, price, qty float64) (string, error) {
	body := map[string]interface{}{
		"symbol":      symbol,
		"side":        phemexSide(side),
		"ordType":     "Limit",
		"priceRp":     strconv.FormatFloat(price, 'f', -1, 64),
		"orderQtyRq":  strconv.FormatFloat(qty, 'f', -1, 64),
		"clOrdID":     uuid.NewString(),
		"timeInForce": "GoodTillCancel",
	}
	return c.submitOrder(ctx, body)
}

// PlaceMarketClose sends a reduce-only market order closing qty of a position.
func (c *PhemexClient) PlaceMarketClose(ctx context.Context, symbol string, side model.Side, qty float64) (string, error) {
	body := map[string]interface{}{
		"symbol":      symbol,
		"side":        phemexSide(side),
		"ordType":     "Market",
		"orderQtyRq":  strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly":  true,
		"clOrdID":     uuid.NewString(),
		"timeInForce": "ImmediateOrCancel",
	}
	return c.submitOrder(ctx, body)
}

// PlaceStopOrder arms a reduce-only trigger order. isStopLoss picks the
// trigger order type the exchange reports back explicitly.
func (c *PhemexClient) PlaceStopOrder(ctx context.Context, symbol string, side model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	ordType := "MarketIfTouched"
	if isStopLoss {
		ordType = "Stop"
	}
	body := map[string]interface{}{
		"symbol":      symbol,
		"side":        phemexSide(side),
		"ordType":     ordType,
		"stopPxRp":    strconv.FormatFloat(triggerPrice, 'f', -1, 64),
		"orderQtyRq":  strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly":  true,
		"triggerType": "ByLastPrice",
		"clOrdID":     uuid.NewString(),
		"timeInForce": "GoodTillCancel",
	}
	return c.submitOrder(ctx, body)
}

func (c *PhemexClient) submitOrder(ctx context.Context, body map[string]interface{}) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal order body: %w", err)
	}
	resp, err := c.doRequest(ctx, "POST", "/g-orders", "", b)
	if err != nil {
		return "", err
	}
	var placed struct {
		OrderID string `json:"orderID"`
	}
	if err := json.Unmarshal(resp.Data, &placed); err != nil {
		return "", fmt.Errorf("unmarshal order reply: %w", err)
	}
	return placed.OrderID, nil
}

func (c *PhemexClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/g-orders",
		fmt.Sprintf("symbol=%s&orderID=%s", symbol, orderID), nil)
	return err
}

func (c *PhemexClient) CancelAll(ctx context.Context, symbol string) error {
	_, err := c.doRequest(ctx, "DELETE", "/g-orders/all", fmt.Sprintf("symbol=%s", symbol), nil)
	return err
}

func (c *PhemexClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.doRequest(ctx, "PUT", "/g-positions/leverage",
		fmt.Sprintf("symbol=%s&leverageRr=%d", symbol, leverage), nil)
	return err
}

// CancelStop satisfies orders.StopCanceler for duplicate-stop cleanup.
func (c *PhemexClient) CancelStop(symbol, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.CancelOrder(ctx, symbol, orderID); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Warn("best-effort duplicate stop cancel failed")
	}
}

type phemexFill struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	ExecPriceRp  string `json:"execPriceRp"`
	ExecQtyRq    string `json:"execQtyRq"`
	ExecFeeRv    string `json:"execFeeRv"`
	FeeCurrency  string `json:"feeCurrency"`
	TransactTime int64  `json:"transactTimeNs"`
}

// GetFills returns recent executions for symbol, oldest first.
func (c *PhemexClient) GetFills(ctx context.Context, symbol string) ([]Fill, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-trades/fills", fmt.Sprintf("symbol=%s", symbol), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Rows []phemexFill `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal phemex fills: %w", err)
	}

	fills := make([]Fill, 0, len(parsed.Rows))
	for i := len(parsed.Rows) - 1; i >= 0; i-- {
		f := parsed.Rows[i]
		price, _ := strconv.ParseFloat(f.ExecPriceRp, 64)
		qty, _ := strconv.ParseFloat(f.ExecQtyRq, 64)
		fee, _ := strconv.ParseFloat(f.ExecFeeRv, 64)
		side := model.SideBuy
		if strings.EqualFold(f.Side, "Sell") {
			side = model.SideSell
		}
		fills = append(fills, Fill{
			Symbol:      f.Symbol,
			Side:        side,
			Price:       price,
			Quantity:    qty,
			FeeCurrency: f.FeeCurrency,
			FeeAmount:   fee,
			SettleAsset: "USDT",
			Time:        time.Unix(0, f.TransactTime),
		})
	}
	return fills, nil
}

// FetchMarkets loads the product table for the metadata cache.
func (c *PhemexClient) FetchMarkets(ctx context.Context) (map[string]MarketMeta, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/public/products")
	if err != nil {
		return nil, fmt.Errorf("phemex products: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, &APIError{Exchange: "phemex", Status: resp.StatusCode(), Msg: string(resp.Body())}
	}

	var parsed struct {
		Data struct {
			PerpProductsV2 []struct {
				Symbol         string `json:"symbol"`
				ContractSizeRq string `json:"contractSizeRq"`
				TickSizeRp     string `json:"tickSizeRp"`
				QtyStepSizeRq  string `json:"qtyStepSizeRq"`
				SettleCurrency string `json:"settleCurrency"`
				PricePrecision int    `json:"pricePrecision"`
			} `json:"perpProductsV2"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal phemex products: %w", err)
	}

	table := make(map[string]MarketMeta, len(parsed.Data.PerpProductsV2))
	for _, p := range parsed.Data.PerpProductsV2 {
		size, _ := strconv.ParseFloat(p.ContractSizeRq, 64)
		tick, _ := strconv.ParseFloat(p.TickSizeRp, 64)
		lot, _ := strconv.ParseFloat(p.QtyStepSizeRq, 64)
		if size <= 0 {
			size = 1
		}
		table[p.Symbol] = MarketMeta{
			Symbol:       p.Symbol,
			ContractSize: size,
			TickSize:     tick,
			LotSize:      lot,
			SettleAsset:  p.SettleCurrency,
			PricePrec:    p.PricePrecision,
		}
	}
	return table, nil
}

func phemexSide(side model.Side) string {
	if side == model.SideBuy {
		return "Buy"
	}
	return "Sell"
}
