// Raw REST client for KuCoin spot. Plain net/http with KC-API-* header
// signing: sign = base64(HMAC_SHA256(timestamp + method + path+query + body)),
// passphrase itself HMAC-signed for key version 2+.
package connectors

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradeterm/src/model"
	"tradeterm/src/orders"
)

type kucoinAPIResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`
}

// KucoinClient is the authenticated spot REST client for the kucoin-spot
// profile.
type KucoinClient struct {
	apiKey        string
	apiSecret     string
	apiPassphrase string
	keyVersion    string
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
}

func NewKucoinClient(creds model.Credentials, cfg Config, proxyURL string) *KucoinClient {
	transport := http.DefaultTransport
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
	return &KucoinClient{
		apiKey:        creds.APIKey,
		apiSecret:     creds.APISecret,
		apiPassphrase: creds.Passphrase,
		keyVersion:    "2",
		baseURL:       cfg.KucoinBaseURL,
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RESTRateLimit), cfg.RESTRateBurst),
	}
}

// BaseURL is the metadata-cache key for this client.
func (c *KucoinClient) BaseURL() string { return c.baseURL }

// KC-API-PASSPHRASE = base64( HMAC_SHA256(apiSecret, apiPassphrase) )
func kucoinSignPassphrase(secret, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KC-API-SIGN = base64( HMAC_SHA256(apiSecret, timestamp + method + requestPath + body) )
func kucoinSignRequest(secret, timestamp, method, requestPath, body string) string {
	prehash := timestamp + method + requestPath + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *KucoinClient) doRequest(ctx context.Context, method, endpoint, query, body string) (*kucoinAPIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestPath := endpoint
	if query != "" {
		requestPath = endpoint + "?" + query
	}
	fullURL := c.baseURL + requestPath

	timestamp := fmt.Sprintf("%d", time.Now().UnixNano()/int64(time.Millisecond))
	signature := kucoinSignRequest(c.apiSecret, timestamp, method, requestPath, body)
	encryptedPassphrase := kucoinSignPassphrase(c.apiSecret, c.apiPassphrase)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-KEY", c.apiKey)
	req.Header.Set("KC-API-SIGN", signature)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", encryptedPassphrase)
	req.Header.Set("KC-API-KEY-VERSION", c.keyVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Exchange: "kucoin", Status: resp.StatusCode, Msg: string(respBody)}
	}

	var apiResp kucoinAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin response: %w", err)
	}
	if apiResp.Code != "200000" {
		code, _ := strconv.Atoi(apiResp.Code)
		return nil, &APIError{Exchange: "kucoin", Status: resp.StatusCode, Code: code, Msg: apiResp.Msg}
	}
	return &apiResp, nil
}

// TestConnection verifies the credentials with a cheap signed call.
func (c *KucoinClient) TestConnection(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/v1/accounts", "type=trade", ""); err != nil {
		return fmt.Errorf("kucoin ping failed: %w", err)
	}
	return nil
}

type kucoinAccount struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
}

// GetBalances returns trade-account balances with a nonzero total.
func (c *KucoinClient) GetBalances(ctx context.Context) ([]model.Balance, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/accounts", "type=trade", "")
	if err != nil {
		return nil, err
	}

	var accounts []kucoinAccount
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin accounts: %w", err)
	}

	var balances []model.Balance
	for _, a := range accounts {
		total, _ := strconv.ParseFloat(a.Balance, 64)
		if total == 0 {
			continue
		}
		avail, _ := strconv.ParseFloat(a.Available, 64)
		balances = append(balances, model.Balance{Asset: a.Currency, Available: avail, Total: total})
	}
	return balances, nil
}

type kucoinOrder struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	DealSize  string `json:"dealSize"`
	Stop      string `json:"stop"` // "loss" / "entry" or empty
	StopPrice string `json:"stopPrice"`
	CreatedAt int64  `json:"createdAt"` // ms
}

// GetActiveOrders returns live orders for symbol in reconciler form.
func (c *KucoinClient) GetActiveOrders(ctx context.Context, symbol string) ([]orders.LiveOrder, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/orders",
		fmt.Sprintf("status=active&symbol=%s", symbol), "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []kucoinOrder `json:"items"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin orders: %w", err)
	}

	live := make([]orders.LiveOrder, 0, len(parsed.Items))
	for _, o := range parsed.Items {
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.Size, 64)
		dealt, _ := strconv.ParseFloat(o.DealSize, 64)
		stopPx, _ := strconv.ParseFloat(o.StopPrice, 64)

		side := model.SideBuy
		if o.Side == "sell" {
			side = model.SideSell
		}
		hint := model.StopKindUnknown
		switch o.Stop {
		case "loss":
			hint = model.StopKindStopLoss
		case "entry":
			hint = model.StopKindTakeProfit
		}

		live = append(live, orders.LiveOrder{
			OrderID:      o.ID,
			Symbol:       o.Symbol,
			Side:         side,
			Price:        price,
			Remaining:    size - dealt,
			ReduceOnly:   stopPx > 0, // spot stops are close-only by construction here
			TriggerPrice: stopPx,
			TypeHint:     hint,
			CreatedAt:    time.UnixMilli(o.CreatedAt),
		})
	}
	return live, nil
}

func (c *KucoinClient) PlaceLimitOrder(ctx context.Context, symbol string, side model.Side, price, qty float64) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"clientOid": uuid.NewString(),
		"symbol":    symbol,
		"side":      string(side),
		"type":      "limit",
		"price":     strconv.FormatFloat(price, 'f', -1, 64),
		"size":      strconv.FormatFloat(qty, 'f', -1, 64),
	})
	return c.submitOrder(ctx, "/api/v1/orders", string(body))
}

func (c *KucoinClient) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"clientOid": uuid.NewString(),
		"symbol":    symbol,
		"side":      string(side),
		"type":      "market",
		"size":      strconv.FormatFloat(qty, 'f', -1, 64),
	})
	return c.submitOrder(ctx, "/api/v1/orders", string(body))
}

// PlaceStopOrder creates a stop order on the spot stop-order endpoint. KuCoin
// reports the kind back explicitly via the "stop" field.
func (c *KucoinClient) PlaceStopOrder(ctx context.Context, symbol string, side model.Side, triggerPrice, qty float64, isStopLoss bool) (string, error) {
	stop := "entry"
	if isStopLoss {
		stop = "loss"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"clientOid": uuid.NewString(),
		"symbol":    symbol,
		"side":      string(side),
		"type":      "market",
		"stop":      stop,
		"stopPrice": strconv.FormatFloat(triggerPrice, 'f', -1, 64),
		"size":      strconv.FormatFloat(qty, 'f', -1, 64),
	})
	return c.submitOrder(ctx, "/api/v1/stop-order", string(body))
}

func (c *KucoinClient) submitOrder(ctx context.Context, endpoint, body string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, "", body)
	if err != nil {
		return "", err
	}
	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &placed); err != nil {
		return "", fmt.Errorf("unmarshal order reply: %w", err)
	}
	return placed.OrderID, nil
}

func (c *KucoinClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, "", "")
	return err
}

func (c *KucoinClient) CancelAll(ctx context.Context, symbol string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/orders", fmt.Sprintf("symbol=%s", symbol), "")
	return err
}

// CancelStop satisfies orders.StopCanceler for duplicate-stop cleanup.
func (c *KucoinClient) CancelStop(symbol, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/stop-order/"+orderID, "", ""); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Warn("best-effort duplicate stop cancel failed")
	}
}

type kucoinFill struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
	CreatedAt   int64  `json:"createdAt"` // ms
}

// GetFills returns recent executions for symbol, oldest first.
func (c *KucoinClient) GetFills(ctx context.Context, symbol string) ([]Fill, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/fills", fmt.Sprintf("symbol=%s", symbol), "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Items []kucoinFill `json:"items"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin fills: %w", err)
	}

	fills := make([]Fill, 0, len(parsed.Items))
	for i := len(parsed.Items) - 1; i >= 0; i-- {
		f := parsed.Items[i]
		price, _ := strconv.ParseFloat(f.Price, 64)
		size, _ := strconv.ParseFloat(f.Size, 64)
		fee, _ := strconv.ParseFloat(f.Fee, 64)
		side := model.SideBuy
		if f.Side == "sell" {
			side = model.SideSell
		}
		fills = append(fills, Fill{
			Symbol:      f.Symbol,
			Side:        side,
			Price:       price,
			Quantity:    size,
			FeeCurrency: f.FeeCurrency,
			FeeAmount:   fee,
			SettleAsset: f.FeeCurrency,
			Time:        time.UnixMilli(f.CreatedAt),
		})
	}
	return fills, nil
}

// FetchMarkets loads the spot symbol table for the metadata cache.
func (c *KucoinClient) FetchMarkets(ctx context.Context) (map[string]MarketMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/symbols", nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			QuoteCurrency string `json:"quoteCurrency"`
			PriceIncr     string `json:"priceIncrement"`
			BaseIncr      string `json:"baseIncrement"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin symbols: %w", err)
	}

	table := make(map[string]MarketMeta, len(parsed.Data))
	for _, s := range parsed.Data {
		tick, _ := strconv.ParseFloat(s.PriceIncr, 64)
		lot, _ := strconv.ParseFloat(s.BaseIncr, 64)
		table[s.Symbol] = MarketMeta{
			Symbol:       s.Symbol,
			ContractSize: 1,
			TickSize:     tick,
			LotSize:      lot,
			SettleAsset:  s.QuoteCurrency,
		}
	}
	return table, nil
}
