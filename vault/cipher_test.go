package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewCipher(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid key", testKey, nil},
		{"valid key with whitespace", "  " + testKey + "\n", nil},
		{"missing key", "", ErrMissingKey},
		{"non hex key", strings.Repeat("zz", 32), ErrInvalidKey},
		{"short key", testKey[:32], ErrInvalidKey},
		{"long key", testKey + "00", ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCipher(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("p1"),
		[]byte(`{"username":"u1","password":"p1"}`),
		[]byte(strings.Repeat("long secret ", 512)),
	}

	for _, p := range plaintexts {
		blob, err := c.Encrypt(p)
		require.NoError(t, err)

		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, string(p), string(got))
	}
}

func TestCipher_NonceRandomness(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	first, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	second, err := c.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_DecryptFailures(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := c.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := c.Decrypt(blob[:8])
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewCipher(strings.Repeat("ab", 32))
		require.NoError(t, err)
		_, err = other.Decrypt(blob)
		assert.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestCipher_Credentials(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	creds := Credentials{Username: "u1", Password: "hunter2-long-secret", Extra: map[string]string{"email": "u1@example.com"}}
	blob, err := c.EncryptCredentials(creds)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "hunter2-long-secret")

	got, err := c.DecryptCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// authenticated but not JSON
	junk, err := c.Encrypt([]byte("not json"))
	require.NoError(t, err)
	_, err = c.DecryptCredentials(junk)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func BenchmarkCipher_Encrypt(b *testing.B) {
	c, _ := NewCipher(testKey)
	data := []byte(`{"username":"u1","password":"p1"}`)

	for b.Loop() {
		_, _ = c.Encrypt(data)
	}
}
