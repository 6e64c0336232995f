package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":     "254712345678",
		"0112345678":     "254112345678",
		"712345678":      "254712345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		"0712 345 678":   "254712345678",
		" 0712-345-678 ": "254712345678",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizePhone("   ")
	assert.ErrorIs(t, err, ErrPhoneRequired)

	for _, in := range []string{"12345", "0812345678", "+1 415 555 0100", "25471234567", "07123456789", "07abc45678"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}
