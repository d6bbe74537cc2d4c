// Package dedup detects documents whose content is already attached to a claim.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
)

// Algorithm names the digest function stored alongside every asset
const Algorithm = "sha256"

// Hash returns the lowercase hex SHA-256 digest of content
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
