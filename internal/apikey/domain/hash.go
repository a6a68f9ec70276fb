package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintLen = 12

// HashAPIKey is the lookup digest stored in api_keys.key_hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Fingerprint shortens a key digest to something safe to log.
func Fingerprint(hash string) string {
	if len(hash) <= fingerprintLen {
		return hash
	}
	return hash[:fingerprintLen]
}
