// Package passcode generates and verifies annotator passcodes. A passcode is
// the only credential an annotator holds; it is handed out once at account
// creation and stored as a bcrypt hash.
package passcode

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length of generated passcodes. Short enough to type from a printout,
// long enough that guessing is impractical with bcrypt in front.
const Length = 8

// Generate returns a random lowercase alphanumeric passcode.
func Generate() (string, error) {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate passcode: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Hash returns the bcrypt hash to persist for a passcode.
func Hash(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash passcode: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether code matches the stored hash.
func Verify(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
