package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePayloadHash returns the hex SHA256 of a signed payload.
// Returns hex-encoded hash (64 characters).
func ComputePayloadHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// ComputeAttemptID computes a deterministic attempt_id using SHA256.
// Formula: SHA256(payload_hash|wallet_address|attempt_number|submitted_at)
// Returns hex-encoded hash (64 characters).
func ComputeAttemptID(
	payloadHash string,
	walletAddress string,
	attemptNumber int,
	submittedAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		payloadHash,
		walletAddress,
		attemptNumber,
		submittedAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
