package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUserID returns a salted SHA-256 digest of an external user id, used as
// the opaque end-user identifier forwarded to upstream providers. With an
// empty salt the raw id is returned unchanged.
func HashUserID(salt, externalID string) string {
	if salt == "" {
		return externalID
	}
	sum := sha256.Sum256([]byte(salt + externalID))
	return hex.EncodeToString(sum[:])
}
