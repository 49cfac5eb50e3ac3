// Package security encrypts exchange credentials at rest. Keys and secrets
// are stored as base64 chacha20poly1305 ciphertext and decrypted only when a
// session connects.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// keyFromConfig decodes the base64 master key from the environment.
func keyFromConfig() ([]byte, error) {
	config := GetConfig()
	if config.ExchangeCRKey == "" {
		return nil, fmt.Errorf("EXCHANGE_CREDENTIALS_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(config.ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// EncryptString seals plaintext with the configured master key and returns
// base64(nonce || ciphertext).
func EncryptString(plaintext string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}
	return EncryptStringWithKey(plaintext, key)
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}
	return DecryptStringWithKey(encoded, key)
}

// EncryptStringWithKey seals plaintext with an explicit key.
func EncryptStringWithKey(plaintext string, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptStringWithKey opens base64(nonce || ciphertext) with an explicit key.
func DecryptStringWithKey(encoded string, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credentials: %w", err)
	}
	return string(plaintext), nil
}

// NewKey generates a fresh base64-encoded master key.
func NewKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
