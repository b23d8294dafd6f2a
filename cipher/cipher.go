// Package cipher encrypts agent service tokens and admin passwords at rest
// (spec §4.4, §4.6). A symmetric AEAD is used rather than a one-way hash
// because the plaintext must be recoverable: the manager itself needs to
// present the service token to the agent on the manager's behalf, and an
// operator may need to read it back out during an incident.
//
// Security note: this is "encryption at rest against disk/backup
// exposure", not a substitute for a real secrets manager — the key itself
// still lives on the same host (spec §1 Non-goals: "secret storage beyond
// symmetric-key encryption of tokens at rest").
package cipher

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required symmetric key length for chacha20poly1305.
const KeySize = chacha20poly1305.KeySize

// Cipher encrypts and decrypts token material with a single fixed key
// derived from the per-install secret (the key file at
// config.AppConfig.TokenCipherKeyPath, read by LoadOrGenerateKey before
// constructing a Cipher).
type Cipher struct {
	aead cipherAEAD
}

// cipherAEAD narrows the stdlib/x-crypto AEAD interface to what this
// package uses, keeping New's return type mockable in tests.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// New constructs a Cipher from a 32-byte key. It returns an error if key
// is not exactly KeySize bytes, since a silently truncated or padded key
// would produce ciphertext nothing could ever decrypt correctly.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: construct AEAD: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext, prefixing the returned ciphertext with a fresh
// random nonce so Decrypt needs nothing but the Cipher's key to reverse
// it. additionalData is typically the agent's composite key string, which
// binds the ciphertext to the record it belongs to and makes a ciphertext
// swapped between two agents' records fail to decrypt.
func (c *Cipher) Encrypt(plaintext []byte, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cipher: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt. additionalData must match what was passed to
// Encrypt or decryption fails with an authentication error.
func (c *Cipher) Decrypt(ciphertext []byte, additionalData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("cipher: ciphertext shorter than nonce size %d", nonceSize)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("cipher: decrypt: %w", err)
	}
	return plaintext, nil
}
