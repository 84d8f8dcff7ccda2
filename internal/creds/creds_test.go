package creds

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := NewCipher([]byte("test-master-key"))
	require.NoError(t, err)

	plaintext := []byte(`{"api_key":"k-123","api_secret":"s-456"}`)
	envelope, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := c.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEnvelopeLayout(t *testing.T) {
	c, err := NewCipher([]byte("test-master-key"))
	require.NoError(t, err)

	envelope, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(envelope)
	require.NoError(t, err)
	// 12-byte nonce, then ciphertext with a 16-byte GCM tag.
	assert.Equal(t, 12+len("secret")+16, len(raw))
}

func TestNoncesDiffer(t *testing.T) {
	c, err := NewCipher([]byte("test-master-key"))
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher([]byte("test-master-key"))
	require.NoError(t, err)

	envelope, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(envelope)
	raw[len(raw)-1] ^= 0x01

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a, err := NewCipher([]byte("key-a"))
	require.NoError(t, err)
	b, err := NewCipher([]byte("key-b"))
	require.NoError(t, err)

	envelope, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Decrypt(envelope)
	assert.Error(t, err)
}

func TestDecryptRejectsShortEnvelope(t *testing.T) {
	c, err := NewCipher([]byte("k"))
	require.NoError(t, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	_, err = c.Decrypt("not-base64!!!")
	assert.Error(t, err)
}

func TestZeroWipesMaterial(t *testing.T) {
	key := []byte("k-123")
	secret := []byte("s-456")
	creds := Credentials{APIKey: key, APISecret: secret, Valid: true}

	creds.Zero()
	assert.Nil(t, creds.APIKey)
	assert.Nil(t, creds.APISecret)
	assert.False(t, creds.Valid)
	// The backing arrays themselves are overwritten.
	assert.Equal(t, make([]byte, 5), key)
	assert.Equal(t, make([]byte, 5), secret)

	assert.NotPanics(t, func() { creds.Zero() })
}
