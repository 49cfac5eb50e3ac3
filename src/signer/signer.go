// Package signer is the narrow boundary around the native transaction signer
// used by the hydra-perp profile. The concrete signing scheme lives behind
// the Signer interface; the rest of the terminal only moves opaque signed
// payloads around.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CreateOrderTx is the unsigned create-order transaction.
type CreateOrderTx struct {
	AccountID  string  `json:"account_id"`
	Symbol     string  `json:"symbol"`
	IsBuy      bool    `json:"is_buy"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	ReduceOnly bool    `json:"reduce_only"`
	TriggerPx  float64 `json:"trigger_px,omitempty"`
	Nonce      uint64  `json:"nonce"`
	ExpiresAt  int64   `json:"expires_at"`
}

// CancelOrderTx is the unsigned cancel-order transaction.
type CancelOrderTx struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	OrderID   string `json:"order_id"`
	Nonce     uint64 `json:"nonce"`
}

// CancelAllTx cancels every resting order for a symbol.
type CancelAllTx struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Nonce     uint64 `json:"nonce"`
}

// UpdateLeverageTx changes the leverage of a symbol.
type UpdateLeverageTx struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Leverage  int    `json:"leverage"`
	Nonce     uint64 `json:"nonce"`
}

// Signer produces signed transaction payloads for the hydra-perp exchange.
//
// Byte-ownership contract: every returned []byte is borrowed from the signer
// and only valid until the next call on the same Signer. Callers that keep a
// payload across calls must copy it first.
type Signer interface {
	CreateClient(privateKey, accountID string) error
	CheckClient() error
	CreateAuthToken(expiresAt int64) ([]byte, error)
	SignCreateOrder(tx CreateOrderTx) ([]byte, error)
	SignCancelOrder(tx CancelOrderTx) ([]byte, error)
	SignCancelAllOrders(tx CancelAllTx) ([]byte, error)
	SignUpdateLeverage(tx UpdateLeverageTx) ([]byte, error)
}

// Local is an HMAC-SHA256 based Signer used for keys managed in-process.
// The signed payload is the canonical JSON of the transaction wrapped with
// the hex signature, serialized into a buffer reused across calls.
type Local struct {
	key       []byte
	accountID string
	buf       []byte
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) CreateClient(privateKey, accountID string) error {
	if privateKey == "" {
		return fmt.Errorf("signer: empty private key")
	}
	if accountID == "" {
		return fmt.Errorf("signer: empty account id")
	}
	l.key = []byte(privateKey)
	l.accountID = accountID
	return nil
}

func (l *Local) CheckClient() error {
	if len(l.key) == 0 {
		return fmt.Errorf("signer: client not created")
	}
	return nil
}

func (l *Local) CreateAuthToken(expiresAt int64) ([]byte, error) {
	if err := l.CheckClient(); err != nil {
		return nil, err
	}
	return l.seal("auth", map[string]interface{}{
		"account_id": l.accountID,
		"expires_at": expiresAt,
	})
}

func (l *Local) SignCreateOrder(tx CreateOrderTx) ([]byte, error) {
	if err := l.CheckClient(); err != nil {
		return nil, err
	}
	return l.seal("create_order", tx)
}

func (l *Local) SignCancelOrder(tx CancelOrderTx) ([]byte, error) {
	if err := l.CheckClient(); err != nil {
		return nil, err
	}
	return l.seal("cancel_order", tx)
}

func (l *Local) SignCancelAllOrders(tx CancelAllTx) ([]byte, error) {
	if err := l.CheckClient(); err != nil {
		return nil, err
	}
	return l.seal("cancel_all", tx)
}

func (l *Local) SignUpdateLeverage(tx UpdateLeverageTx) ([]byte, error) {
	if err := l.CheckClient(); err != nil {
		return nil, err
	}
	return l.seal("update_leverage", tx)
}

// seal signs the canonical JSON of body and returns the borrowed payload.
func (l *Local) seal(op string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal %s tx: %w", op, err)
	}

	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(op))
	mac.Write(raw)
	sig := hex.EncodeToString(mac.Sum(nil))

	envelope := struct {
		Op        string          `json:"op"`
		Tx        json.RawMessage `json:"tx"`
		Signature string          `json:"signature"`
	}{Op: op, Tx: raw, Signature: sig}

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal %s envelope: %w", op, err)
	}

	// Reuse the internal buffer: returned bytes are borrowed per the
	// Signer contract.
	l.buf = append(l.buf[:0], out...)
	return l.buf, nil
}
