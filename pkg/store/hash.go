package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashContent computes "sha256:" + lowercase hex SHA-256 of content —
// the stored representation, never raw decoded bytes. Both the
// channel and request/response paths must agree on this for binary
// reconciliation to converge (spec.md §4.3).
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// sizeOf returns the byte length of the stored representation.
func sizeOf(content string) int64 {
	return int64(len(content))
}
