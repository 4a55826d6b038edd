// Package crypto implements secure-link token generation and PIN hashing.
package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// TokenBytes is the entropy of a secure-link token (256 bits).
const TokenBytes = 32

// PinLength is the fixed number of digits in a sender PIN.
const PinLength = 6

// pinCost is the bcrypt work factor for PIN hashes.
var pinCost = 12

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewToken returns a fresh hex-encoded link token.
func NewToken() (string, error) {
	b, err := RandBytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidToken reports whether s has the shape of a token produced by NewToken.
func ValidToken(s string) bool {
	if len(s) != 2*TokenBytes {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ValidPIN reports whether pin is exactly six ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// HashPIN returns a salted bcrypt hash of pin.
func HashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), pinCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPIN compares pin against a bcrypt hash. The PIN is treated as an opaque string.
func VerifyPIN(hash, pin string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
