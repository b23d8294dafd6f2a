package cipher

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	plaintext := []byte("super-secret-service-token")
	aad := []byte("agent-key")

	ciphertext, err := c.Encrypt(plaintext, aad)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Decrypt(ciphertext, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsWithWrongAAD(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("hello"), []byte("agent-a"))
	require.NoError(t, err)

	_, err = c.Decrypt(ciphertext, []byte("agent-b"))
	assert.Error(t, err)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}

func TestLoadOrGenerateKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.hex")

	key1, err := LoadOrGenerateKey(path)
	require.NoError(t, err)
	assert.Len(t, key1, KeySize)

	key2, err := LoadOrGenerateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}
