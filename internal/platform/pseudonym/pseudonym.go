// Package pseudonym provides the one-way hashing used to pseudonymize
// patient identity. The same input always produces the same digest, so
// the same real-world patient maps to the same opaque identifier across
// independent submissions. No inverse mapping is kept anywhere.
package pseudonym

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashIdentity returns the hex-encoded SHA-256 digest of an identity
// field (national id, name, birth date).
func HashIdentity(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex-encoded SHA-256 digest of raw content, used
// for signed consent artifacts.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
