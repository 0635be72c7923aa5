package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashQuery returns a non-reversible hex digest of a query, normalized so
// that case and surrounding-whitespace variants hash identically. Audit rows
// store this digest instead of the raw query text.
func HashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
