package model

import "time"

// ExchangeProfile identifies one of the supported exchange sessions.
// It is an immutable key into the session table and is never mutated.
type ExchangeProfile string

const (
	ProfileMexcFutures   ExchangeProfile = "mexc-futures"
	ProfilePhemexFutures ExchangeProfile = "phemex-futures"
	ProfileKucoinSpot    ExchangeProfile = "kucoin-spot"
	ProfileHydraPerp     ExchangeProfile = "hydra-perp"
)

// AllProfiles lists every profile the terminal knows how to drive.
var AllProfiles = []ExchangeProfile{
	ProfileMexcFutures,
	ProfilePhemexFutures,
	ProfileKucoinSpot,
	ProfileHydraPerp,
}

func (p ExchangeProfile) Valid() bool {
	for _, known := range AllProfiles {
		if p == known {
			return true
		}
	}
	return false
}

// ConnState is the connection state of a profile session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// Side of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Credentials holds the API authentication material for one profile.
// Passphrase is only used by KuCoin-style keys, PrivateKey only by the
// signer-based DEX profile.
type Credentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.PrivateKey == ""
}

// ProxySpec describes an optional outbound proxy for a profile session.
type ProxySpec struct {
	Scheme   string `json:"scheme"` // http or socks5
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (p ProxySpec) Configured() bool { return p.Host != "" && p.Port > 0 }

// Position is the local view of exposure for one (profile, symbol).
// Quantity is always >= 0; Side carries the direction. Multiplier is the
// contract size for derivatives and 1 for spot.
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	RealizedPnl float64   `json:"realized_pnl"`
	Multiplier  float64   `json:"multiplier"`
	HasPosition bool      `json:"has_position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Notional returns price * quantity * multiplier at the average entry.
func (p Position) Notional() float64 {
	m := p.Multiplier
	if m <= 0 {
		m = 1
	}
	return p.EntryPrice * p.Quantity * m
}

// OrderRecord is one open resting order as observed via push or poll.
type OrderRecord struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Remaining float64   `json:"remaining"` // remaining notional
	CreatedAt time.Time `json:"created_at"`
}

// StopOrder is a reduce-only trigger order observed on the exchange.
type StopOrder struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	TriggerPrice float64   `json:"trigger_price"`
	// TriggerDirection: +1 triggers when price rises through the trigger,
	// -1 when it falls through, 0 when the exchange did not report it.
	TriggerDirection int       `json:"trigger_direction"`
	TypeHint         StopKind  `json:"type_hint,omitempty"` // explicit exchange-reported kind, if any
	CreatedAt        time.Time `json:"created_at"`
}

// StopKind classifies a stop-style order.
type StopKind string

const (
	StopKindUnknown    StopKind = ""
	StopKindStopLoss   StopKind = "stop_loss"
	StopKindTakeProfit StopKind = "take_profit"
)

// StopKindInfo keeps the SL/TP labeling of one order id stable across
// repeated, possibly ambiguous snapshots.
type StopKindInfo struct {
	Kind     StopKind  `json:"kind"`
	Explicit bool      `json:"explicit"` // classified from an exchange-reported type flag
	LastSeen time.Time `json:"last_seen"`
}

// ExecutedTrade is an immutable executed-trade fact. It is appended to the
// trade log and the in-memory history and never mutated afterwards.
type ExecutedTrade struct {
	Time        time.Time       `json:"time"`
	Account     ExchangeProfile `json:"account"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Price       float64         `json:"price"`
	Quantity    float64         `json:"qty"`
	FeeCurrency string          `json:"fee_currency,omitempty"`
	FeeAmount   float64         `json:"fee_amount"`
	RealizedPnl float64         `json:"realized_pnl"`
	RealizedPct float64         `json:"realized_pct"`
}

// Balance is one asset balance for a profile account.
type Balance struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
	Total     float64 `json:"total"`
}

// OrderMarker is the collaborator-facing projection of a resting order,
// consumed by the order-book ladder.
type OrderMarker struct {
	OrderID string  `json:"order_id"`
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
}

// PnLSummary aggregates realized P&L and commission per settle asset for a
// profile, for the account summary view.
type PnLSummary struct {
	Profile    ExchangeProfile    `json:"profile"`
	Realized   map[string]float64 `json:"realized"`
	Commission map[string]float64 `json:"commission"`
	Trades     int                `json:"trades"`
}
