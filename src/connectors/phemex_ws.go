// Private JSON WS stream for Phemex: login with an HMAC signature, subscribe
// the account-order-position channel, surface fills and order-touch events.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"tradeterm/src/model"
)

// PhemexStream is the private WS session for the phemex-futures profile.
type PhemexStream struct {
	conn    *websocket.Conn
	onFill  func(Fill)
	onDirty func(symbol string)
	onDown  func(error)

	closeOnce sync.Once
	done      chan struct{}
}

type phemexWSMessage struct {
	ID     int64           `json:"id,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	Orders []struct {
		Symbol string `json:"symbol"`
	} `json:"orders_p,omitempty"`
	Executions []struct {
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		ExecPriceRp string `json:"execPriceRp"`
		ExecQtyRq   string `json:"execQtyRq"`
		ExecFeeRv   string `json:"execFeeRv"`
		FeeCurrency string `json:"feeCurrency"`
		TransactNs  int64  `json:"transactTimeNs"`
	} `json:"executions_p,omitempty"`
}

// DialPhemexStream opens and authenticates the private stream. Callbacks run
// on the read loop and must not block.
func DialPhemexStream(ctx context.Context, creds model.Credentials, cfg Config, proxyURL string,
	onFill func(Fill), onDirty func(string), onDown func(error)) (*PhemexStream, error) {

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

	conn, _, err := dialer.DialContext(ctx, cfg.PhemexWSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("phemex stream dial: %w", err)
	}

	expiry := time.Now().Add(2 * time.Minute).Unix()
	login := map[string]interface{}{
		"method": "user.auth",
		"params": []interface{}{
			"API",
			creds.APIKey,
			phemexSign("", "", "", expiry, creds.APISecret),
			expiry,
		},
		"id": 1,
	}
	if err := conn.WriteJSON(login); err != nil {
		conn.Close()
		return nil, fmt.Errorf("phemex stream auth write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pushHandshakeTimeout))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("phemex stream auth ack: %w", err)
	}
	var ackMsg phemexWSMessage
	if err := json.Unmarshal(ack, &ackMsg); err == nil && len(ackMsg.Error) > 0 && string(ackMsg.Error) != "null" {
		conn.Close()
		return nil, fmt.Errorf("phemex stream auth rejected: %s", ackMsg.Error)
	}
	conn.SetReadDeadline(time.Time{})

	subscribe := map[string]interface{}{
		"method": "aop_p.subscribe",
		"params": []interface{}{},
		"id":     2,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return nil, fmt.Errorf("phemex stream subscribe: %w", err)
	}

	s := &PhemexStream{
		conn:    conn,
		onFill:  onFill,
		onDirty: onDirty,
		onDown:  onDown,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()

	logger.Info("phemex private stream established")
	return s, nil
}

func (s *PhemexStream) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			logger.WithError(err).Warn("phemex stream read failed")
			s.Close()
			if s.onDown != nil {
				s.onDown(err)
			}
			return
		}

		var parsed phemexWSMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			continue
		}

		for _, e := range parsed.Executions {
			price, _ := strconv.ParseFloat(e.ExecPriceRp, 64)
			qty, _ := strconv.ParseFloat(e.ExecQtyRq, 64)
			fee, _ := strconv.ParseFloat(e.ExecFeeRv, 64)
			side := model.SideBuy
			if e.Side == "Sell" {
				side = model.SideSell
			}
			if s.onFill != nil {
				s.onFill(Fill{
					Symbol:      e.Symbol,
					Side:        side,
					Price:       price,
					Quantity:    qty,
					FeeCurrency: e.FeeCurrency,
					FeeAmount:   fee,
					SettleAsset: "USDT",
					Time:        time.Unix(0, e.TransactNs),
				})
			}
		}

		// Order pushes are partial; signal the symbol dirty so the session
		// schedules a snapshot poll instead of patching incrementally.
		seen := map[string]bool{}
		for _, o := range parsed.Orders {
			if seen[o.Symbol] {
				continue
			}
			seen[o.Symbol] = true
			if s.onDirty != nil {
				s.onDirty(o.Symbol)
			}
		}
	}
}

func (s *PhemexStream) pingLoop() {
	ticker := time.NewTicker(pushPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ping := map[string]interface{}{"method": "server.ping", "params": []interface{}{}, "id": 0}
			if err := s.conn.WriteJSON(ping); err != nil {
				logger.WithError(err).Debug("phemex stream ping failed")
				return
			}
		}
	}
}

// Close tears the stream down. Safe to call more than once.
func (s *PhemexStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
