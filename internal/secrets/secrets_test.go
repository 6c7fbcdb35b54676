package secrets

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt(key, "super-secret-api-key", "u1")
	require.NoError(t, err)

	pt, err := Decrypt(key, ct, "u1")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", pt)
}

func TestDecryptFailsWithWrongAAD(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt(key, "super-secret-api-key", "u1")
	require.NoError(t, err)

	_, err = Decrypt(key, ct, "u2")
	assert.Error(t, err)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	key := testKey(t)
	ct, err := Encrypt(key, "super-secret-api-key", "u1")
	require.NoError(t, err)

	_, err = Decrypt(testKey(t), ct, "u1")
	assert.Error(t, err)
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := Encrypt([]byte("too-short"), "x", "u1")
	assert.Error(t, err)
}
