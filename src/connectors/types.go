// Package connectors holds the signed REST/WS clients for each exchange
// profile plus the shared market-metadata cache and error classification.
package connectors

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tradeterm/src/model"
)

// Fill is one execution reported by an exchange, normalized across profiles.
// The session converts these into position-book applications.
type Fill struct {
	Symbol      string
	Side        model.Side
	Price       float64
	Quantity    float64
	FeeCurrency string
	FeeAmount   float64
	SettleAsset string
	Time        time.Time
}

// parseProxyURL builds a websocket dialer proxy func from a proxy URL.
func parseProxyURL(proxyURL string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return http.ProxyURL(u), nil
}
