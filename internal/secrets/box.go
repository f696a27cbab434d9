// Package secrets provides the explicit encrypt-on-write / decrypt-on-read
// boundary for loaderSql and source database passwords, replacing the
// transparent ORM-converter pattern flagged for re-architecture in spec §9.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrInvalidKey is returned by NewBox when the supplied key material is not
// exactly 32 bytes once decoded.
var ErrInvalidKey = errors.New("secrets: master key must decode to 32 bytes")

// ErrCiphertext is returned by Decrypt when the stored value is truncated,
// malformed, or fails authentication (wrong key, or tampering).
var ErrCiphertext = errors.New("secrets: ciphertext is invalid or authentication failed")

const nonceSize = 24

// Box encrypts and decrypts field values with a single static key. One Box
// is constructed at startup from configuration and passed down via
// constructor injection to every repository that touches an encrypted
// column; there is no package-level global key.
type Box struct {
	key [32]byte
}

// NewBox derives a Box from a base64 or hex-looking 32-byte key string. Keys
// are expected to be generated once and stored in LOADER_ENGINE_MASTER_KEY.
func NewBox(keyMaterial string) (*Box, error) {
	raw, err := decodeKey(keyMaterial)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	var b Box
	copy(b.key[:], raw)
	return &b, nil
}

func decodeKey(keyMaterial string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(keyMaterial); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(keyMaterial); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(keyMaterial); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	return []byte(keyMaterial), nil
}

// Encrypt returns a base64-encoded nonce||ciphertext suitable for storage in
// an encrypted column.
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt, returning the plaintext column value.
func (b *Box) Decrypt(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if len(raw) < nonceSize {
		return "", ErrCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrCiphertext
	}
	return string(plaintext), nil
}
