// Package storage provides the interchangeable consent.Store implementations:
// value-carrying codecs (legacy, sealed, signed) and keyed backends (memory,
// redis, postgres, callback), plus decorators.
package storage

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultTokenLength is the number of random bytes behind a minted token.
const DefaultTokenLength = 32

// MintToken produces an opaque token of the form
// hex(randomBytes) + "." + hex(HMAC-SHA256(randomBytes, secret)).
// The HMAC suffix lets any holder of the secret reject tampered tokens
// without a storage round-trip.
func MintToken(secret []byte, length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenLength
	}
	random := make([]byte, length)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(random)
	return hex.EncodeToString(random) + "." + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken checks the HMAC suffix of a minted token in constant time.
// Any malformed or tampered token verifies false, never panics.
func VerifyToken(secret []byte, token string) bool {
	randomHex, macHex, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	random, err := hex.DecodeString(randomHex)
	if err != nil || len(random) == 0 {
		return false
	}
	claimed, err := hex.DecodeString(macHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(random)
	return hmac.Equal(mac.Sum(nil), claimed)
}

// HashToken derives the lookup-side hash stored next to a record so a leaked
// backend dump cannot be replayed as cookie values.
func HashToken(secret []byte, token string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// hashTokenEqual compares a stored token hash in constant time.
func hashTokenEqual(stored, computed string) bool {
	return hmac.Equal([]byte(stored), []byte(computed))
}
