package visitors

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short, stable identifier for a stable key. It is a
// display handle only and reveals nothing beyond the key itself.
func Fingerprint(k StableKey) string {
	hash := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(hash[:8])
}
