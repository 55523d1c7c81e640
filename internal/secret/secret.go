// Package secret seals small values, such as OAuth tokens, for storage.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrCiphertext is returned for sealed values that fail authentication.
var ErrCiphertext = errors.New("secret: invalid ciphertext")

// Box encrypts with XChaCha20-Poly1305 under a key derived from the
// application secret.
type Box struct {
	key []byte
}

// NewBox derives a key for purpose from secret using HKDF-SHA256. Distinct
// purposes yield unrelated keys.
func NewBox(secret, purpose string) (*Box, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("secret: key material must be at least 32 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), []byte("calassist"), []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}
	return &Box{key: key}, nil
}

// Seal encrypts plaintext, binding it to ad. The nonce is prepended.
func (b *Box) Seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Open reverses Seal. ad must match the value used when sealing.
func (b *Box) Open(sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertext
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, ErrCiphertext
	}
	return out, nil
}
