package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashContent computes the SHA-256 hash of data as a hex string.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON hashes the canonical JSON encoding of v. Map keys are encoded in
// sorted order, so equal values always hash equally.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode content for hashing: %w", err)
	}
	return HashContent(data), nil
}
