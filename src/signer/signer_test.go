package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateClientValidation(t *testing.T) {
	l := NewLocal()
	if err := l.CreateClient("", "acct"); err == nil {
		t.Fatal("empty private key accepted")
	}
	if err := l.CreateClient("key", ""); err == nil {
		t.Fatal("empty account id accepted")
	}
	if err := l.CheckClient(); err == nil {
		t.Fatal("CheckClient passed before CreateClient")
	}
	require.NoError(t, l.CreateClient("key", "acct"))
	require.NoError(t, l.CheckClient())
}

func TestSignCreateOrderEnvelope(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.CreateClient("super-secret", "acct-1"))

	tx := CreateOrderTx{
		AccountID: "acct-1",
		Symbol:    "ETH-PERP",
		IsBuy:     true,
		Price:     3000,
		Quantity:  2,
		Nonce:     41,
		ExpiresAt: 1714560000,
	}
	payload, err := l.SignCreateOrder(tx)
	require.NoError(t, err)

	var envelope struct {
		Op        string          `json:"op"`
		Tx        json.RawMessage `json:"tx"`
		Signature string          `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	require.Equal(t, "create_order", envelope.Op)

	var decoded CreateOrderTx
	require.NoError(t, json.Unmarshal(envelope.Tx, &decoded))
	require.Equal(t, tx, decoded)

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte("create_order"))
	mac.Write(envelope.Tx)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), envelope.Signature)
}

func TestSignedBytesAreBorrowed(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.CreateClient("k", "a"))

	first, err := l.SignCancelOrder(CancelOrderTx{AccountID: "a", Symbol: "S", OrderID: "o1", Nonce: 1})
	require.NoError(t, err)
	snapshot := string(first)

	_, err = l.SignCancelAllOrders(CancelAllTx{AccountID: "a", Symbol: "S", Nonce: 2})
	require.NoError(t, err)

	// The first slice is reused by the next signature per the Signer
	// contract; only the copied snapshot survives.
	if string(first) == snapshot {
		t.Fatal("expected the borrowed buffer to be overwritten by the next signature")
	}
}

func TestSignRequiresClient(t *testing.T) {
	l := NewLocal()
	if _, err := l.CreateAuthToken(123); err == nil {
		t.Fatal("auth token minted without a client")
	}
	if _, err := l.SignUpdateLeverage(UpdateLeverageTx{}); err == nil {
		t.Fatal("leverage signed without a client")
	}
}
