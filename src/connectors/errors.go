package connectors

import (
	"fmt"
	"strings"
)

// APIError is a non-2xx or business-level error reply from an exchange.
type APIError struct {
	Exchange string
	Status   int
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error status=%d code=%d msg=%s", e.Exchange, e.Status, e.Code, e.Msg)
}

// PhemexErrorCodes maps Phemex bizError codes to human-readable messages.
var PhemexErrorCodes = map[int]string{
	11001: "TE_SUCCESS",
	11002: "TE_UNKNOWN_ERROR",
	11003: "TE_INVALID_ARGUMENT",
	11005: "TE_MAINTENANCE_MODE",
	11011: "TE_REDUCE_ONLY_ABORT",
	11015: "TE_PRICE_TOO_SMALL",
	11016: "TE_PRICE_TOO_LARGE",
	11017: "TE_QTY_TOO_SMALL",
	11018: "TE_QTY_TOO_LARGE",
	11022: "TE_STOP_PRICE_INVALID",
	11051: "TE_INSUFFICIENT_BALANCE",
	11052: "TE_INSUFFICIENT_MARGIN",
	11062: "TE_POSITION_NOT_EXIST",
	11100: "TE_TOO_MANY_ORDERS",
	11101: "TE_TOO_MANY_ORDERS_PER_SIDE",
	11120: "TE_CONTRACT_NOT_FOUND",
}

// GetErrorMsg returns a human-readable message for a Phemex error code.
func GetErrorMsg(code int) string {
	if msg, ok := PhemexErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_PHEMEX_ERROR_%d", code)
}

// Business codes that mean "slow down" rather than "request is wrong".
var rateLimitCodes = map[int]bool{
	429:   true, // HTTP status reused as a body code by mexc
	510:   true, // mexc: request frequency too fast
	10072: true, // phemex: API rate limit
	39995: true, // phemex: too many requests
}

// Message substrings that indicate rate limiting when no code is present.
var rateLimitSubstrings = []string{
	"rate limit",
	"too many requests",
	"request frequency",
	"too frequent",
}

// IsRateLimited classifies a response as a rate-limit rejection. Pollers feed
// this to their backoff controller; anything else is handled as an ordinary
// failure.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if api, ok := err.(*APIError); ok {
		if api.Status == 429 || rateLimitCodes[api.Code] {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range rateLimitSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// IsAuthStale reports whether the error means the session/auth token expired
// and a throttled refresh should be attempted.
func IsAuthStale(err error) bool {
	if err == nil {
		return false
	}
	if api, ok := err.(*APIError); ok {
		if api.Status == 401 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "token expired") || strings.Contains(msg, "unauthorized")
}
