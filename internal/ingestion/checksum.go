package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the lowercase hex SHA-256 digest of data. It hashes the
// bytes exactly as uploaded so any client can reproduce it.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
