package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ShortHash is the first length hex characters of sha256 over the values joined with "|".
func ShortHash(length int, values ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:])[:length]
}

// ContentHash is the first 12 hex characters of sha256 over raw bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:12]
}
