// Package credentials seals and opens store refresh tokens so that
// plaintext credentials exist only at the point a marketplace client
// is constructed.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix identifies values produced by Seal. Values without the
// prefix are treated as legacy plaintext and passed through by Open.
const sealedPrefix = "enc:"

// ErrBadKey is returned when the configured key is not the required
// 32 bytes.
var ErrBadKey = errors.New("credentials: key must be 32 bytes")

// Keyring seals and opens tokens with a single symmetric key.
type Keyring struct {
	key []byte
}

// NewKeyring builds a keyring from a 32-byte key.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrBadKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Keyring{key: k}, nil
}

// Seal encrypts a token for storage. Empty input stays empty.
func (k *Keyring) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", fmt.Errorf("credentials: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored token. Values not in sealed format are
// returned unchanged so stores created before encryption was enabled
// keep working until their next reconnect.
func (k *Keyring) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("credentials: decoding sealed token: %w", err)
	}
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", fmt.Errorf("credentials: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("credentials: sealed token too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("credentials: opening sealed token: %w", err)
	}
	return string(plaintext), nil
}
