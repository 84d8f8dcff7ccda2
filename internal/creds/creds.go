// Package creds holds the exchange-credential envelope: AES-256-GCM with
// the 12-byte nonce prepended and base64 outer encoding. Plaintext
// credentials exist only in memory and are zeroed on context shutdown.
// They are never logged.
package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// EnvKey is the environment variable carrying the master key material.
const EnvKey = "ENCRYPTION_KEY"

// Cipher seals and opens credential envelopes with a fixed derived key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipherFromEnv derives the key from EnvKey.
func NewCipherFromEnv() (*Cipher, error) {
	key := os.Getenv(EnvKey)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", EnvKey)
	}
	return NewCipher([]byte(key))
}

// NewCipher derives a 256-bit key from the material via SHA-256.
func NewCipher(material []byte) (*Cipher, error) {
	if len(material) == 0 {
		return nil, errors.New("empty key material")
	}
	key := sha256.Sum256(material)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a base64 envelope: base64(nonce ‖ ciphertext).
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 envelope.
func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("envelope shorter than nonce")
	}
	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

// Credentials is one user's decrypted API key pair.
type Credentials struct {
	APIKey    []byte
	APISecret []byte
	Valid     bool
}

// Zero overwrites the key material in place and marks the credentials
// invalid. Safe to call more than once.
func (c *Credentials) Zero() {
	for i := range c.APIKey {
		c.APIKey[i] = 0
	}
	for i := range c.APISecret {
		c.APISecret[i] = 0
	}
	c.APIKey = nil
	c.APISecret = nil
	c.Valid = false
}
