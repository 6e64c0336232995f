package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashConfirmationHex_consistency(t *testing.T) {
	email, code, salt := "jane@example.com", "12345678", "test-salt"
	h1 := hashConfirmationHex(email, code, salt)
	h2 := hashConfirmationHex(email, code, salt)
	assert.Equal(t, h1, h2, "hash should be deterministic")

	decoded, err := hex.DecodeString(h1)
	require.NoError(t, err, "hash should be valid hex")
	assert.Len(t, decoded, 32)
}

func TestHashConfirmationHex_differentInputsDifferentHash(t *testing.T) {
	salt := "salt"
	h1 := hashConfirmationHex("jane@example.com", "12345678", salt)
	h2 := hashConfirmationHex("john@example.com", "12345678", salt)
	h3 := hashConfirmationHex("jane@example.com", "87654321", salt)
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h2, h3)
}

func TestGenerateConfirmationCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateConfirmationCode()
		require.NoError(t, err)
		assert.Len(t, code, confirmationLength)
		assert.Regexp(t, `^[0-9]+$`, code)
	}
}

func TestConstantTimeCompare(t *testing.T) {
	assert.True(t, constantTimeCompare([]byte("same"), []byte("same")))
	assert.False(t, constantTimeCompare([]byte("same"), []byte("diff")))
	assert.False(t, constantTimeCompare([]byte("a"), []byte("ab")))
	assert.False(t, constantTimeCompare(nil, []byte("x")))
}
