// Package auth provides credential handling for the two trust boundaries of
// the pipeline: shared-secret API keys for ingestion sources and JWT bearer
// tokens for administrative users.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// APIKeyPrefix is prepended to generated source credentials so they are
// recognizable in logs and configuration without revealing anything.
const APIKeyPrefix = "src"

// GenerateAPIKey returns a new opaque source credential of the form
// "src_<token>". The raw key is shown to the operator exactly once; only its
// hash is stored.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + "_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns the stored form of a source credential: an unsalted
// SHA-256 hex digest of the raw key. The digest is deliberately deterministic
// so that hashes remain comparable across deployments sharing a key store.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether the presented key matches the stored hash.
// A source with no stored hash never verifies; that is a false result, not
// an error. Trailing blanks are stripped from the stored form first: rows
// written while the column was fixed-width come back space-padded, and the
// digest itself can never end in a space. Comparison is constant-time.
func VerifyAPIKey(presented, storedHash string) bool {
	storedHash = strings.TrimRight(storedHash, " ")
	if storedHash == "" {
		return false
	}
	candidate := HashAPIKey(presented)
	return hmac.Equal([]byte(candidate), []byte(storedHash))
}
