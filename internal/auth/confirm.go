package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	confirmationLength   = 8
	confirmationExpiry   = 24 * time.Hour
	maxConfirmAttempts   = 5
	minConfirmAttemptGap = 2 * time.Second
)

// generateConfirmationCode returns a random numeric code
func generateConfirmationCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < confirmationLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%0*d", confirmationLength, n), nil
}

// hashConfirmationHex returns SHA-256(email:code:salt) as hex for DB storage
func hashConfirmationHex(email, code, salt string) string {
	return hex.EncodeToString(hashConfirmationBytes(email, code, salt))
}

func hashConfirmationBytes(email, code, salt string) []byte {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", email, code, salt)))
	return hash[:]
}

func constantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
