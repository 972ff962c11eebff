package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"htlc-escrow/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(escrow_id|sequence|type)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(escrowID string, sequence int, eventType domain.EventType) string {
	data := fmt.Sprintf("%s|%d|%s", escrowID, sequence, eventType)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
