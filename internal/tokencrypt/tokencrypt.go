// Package tokencrypt symmetrically encrypts secrets before they are
// persisted, using the base64-encoded 32-byte key spec.md 6 names for
// "stored OAuth tokens". The hard core's own adapters never persist a
// token (spec.md 9: "adapter access-token caches are adapter-instance
// state"), so this package's concrete persisted use is webhook secrets
// (spec.md 3's Webhook entity) — the one bearer-credential column the
// schema actually stores at rest. Grounded on golang.org/x/crypto's
// nacl/secretbox, the simplest authenticated-encryption primitive in
// the retrieval pack's crypto-touching repos.
package tokencrypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32
const nonceSize = 24

// Box encrypts/decrypts secrets under one fixed key, loaded once at
// startup from spec.md 6's TOKEN_ENCRYPTION_KEY.
type Box struct {
	key [keySize]byte
}

// New decodes a base64-encoded 32-byte key. An empty keyB64 yields a
// Box whose Seal/Open are no-ops (plaintext pass-through), so
// deployments that never set the key still boot — matching
// isConfigured-style graceful degradation elsewhere in this repo.
func New(keyB64 string) (*Box, error) {
	if keyB64 == "" {
		return &Box{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding token encryption key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", keySize, len(raw))
	}
	var b Box
	copy(b.key[:], raw)
	return &b, nil
}

func (b *Box) configured() bool {
	var zero [keySize]byte
	return b.key != zero
}

// Seal encrypts plaintext, returning a base64-encoded nonce||ciphertext.
func (b *Box) Seal(plaintext string) (string, error) {
	if !b.configured() {
		return plaintext, nil
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	if !b.configured() {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	if len(raw) < nonceSize {
		return "", errors.New("sealed value too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("decryption failed: wrong key or tampered value")
	}
	return string(plain), nil
}
