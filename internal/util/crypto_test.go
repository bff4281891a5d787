package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)

	assert.Len(t, a, SaltLength)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(base62, r), "unexpected rune %q", r)
	}
}

func TestNameToken(t *testing.T) {
	token := NameToken("0123456789abcdef", "Alice")
	assert.Equal(t, "df6a3b90ac7c3bff94d12056b2edc58c", token)

	assert.True(t, VerifyName("0123456789abcdef", "Alice", token))
	assert.False(t, VerifyName("0123456789abcdef", "Bob", token))
	assert.False(t, VerifyName("fedcba9876543210", "Alice", token))
}

func TestServerKeyCreateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "server.key")

	k1, err := LoadOrCreateServerKey(path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 48)

	k2, err := LoadOrCreateServerKey(path)
	require.NoError(t, err)
	assert.Equal(t, k1.Key, k2.Key)
	assert.Equal(t, k1.IV, k2.IV)
}

func TestServerKeyRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, err := LoadOrCreateServerKey(path)
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	k, err := LoadOrCreateServerKey(filepath.Join(t.TempDir(), "server.key"))
	require.NoError(t, err)

	for _, plain := range []string{"", "hunter2", "exactly sixteen!", strings.Repeat("x", 100)} {
		enc, err := k.Encrypt(plain)
		require.NoError(t, err)
		assert.Equal(t, 0, len(enc)%32, "ciphertext must be whole blocks")

		dec, err := k.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestDecryptWithOtherKeyFails(t *testing.T) {
	dir := t.TempDir()
	k1, err := LoadOrCreateServerKey(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	k2, err := LoadOrCreateServerKey(filepath.Join(dir, "b.key"))
	require.NoError(t, err)

	enc, err := k1.Encrypt("secret password")
	require.NoError(t, err)

	dec, err := k2.Decrypt(enc)
	if err == nil {
		assert.NotEqual(t, "secret password", dec)
	}

	_, err = k1.Decrypt("not hex")
	assert.ErrorIs(t, err, ErrBadCiphertext)
	_, err = k1.Decrypt("abcd")
	assert.ErrorIs(t, err, ErrBadCiphertext)
}
