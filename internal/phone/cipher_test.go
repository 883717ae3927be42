package phone

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewAESCipher_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33} {
		_, err := NewAESCipher(bytes.Repeat([]byte{1}, n))
		assert.Error(t, err, "key length %d", n)
	}
	_, err := NewAESCipher(testKey())
	assert.NoError(t, err)
}

func TestAESCipher_RoundTrip(t *testing.T) {
	c, err := NewAESCipher(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{"+4917012345678", "+12025550123", ""} {
		sealed, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestAESCipher_NonceIsFresh(t *testing.T) {
	c, err := NewAESCipher(testKey())
	require.NoError(t, err)

	a, err := c.Encrypt("+4917012345678")
	require.NoError(t, err)
	b, err := c.Encrypt("+4917012345678")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same plaintext must not produce the same ciphertext")
}

func TestAESCipher_RejectsWrongKey(t *testing.T) {
	c1, err := NewAESCipher(testKey())
	require.NoError(t, err)
	c2, err := NewAESCipher(bytes.Repeat([]byte{0x13}, 32))
	require.NoError(t, err)

	sealed, err := c1.Encrypt("+4917012345678")
	require.NoError(t, err)

	_, err = c2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestAESCipher_RejectsGarbage(t *testing.T) {
	c, err := NewAESCipher(testKey())
	require.NoError(t, err)

	_, err = c.Decrypt("not base64 at all !!!")
	assert.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=")
	assert.Error(t, err, "shorter than the nonce")
}
