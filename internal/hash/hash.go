// Package hash provides the content-addressed fingerprint used to detect
// whether a cohort's payload changed between poll ticks.
package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes.
const Size = blake2b.Size256

// ResponseHash is a Blake2b-256 digest of a serialised payload. Chosen over
// SHA-2 for speed at equivalent collision resistance; 256 bits makes
// collision probability negligible over any realistic subscription
// lifetime.
type ResponseHash [Size]byte

// Hash computes the ResponseHash of the given bytes. Deterministic and pure:
// depends only on the input bytes.
func Hash(payload []byte) ResponseHash {
	return blake2b.Sum256(payload)
}

// String returns the lowercase hex digest, the serialised form used for
// diagnostics.
func (h ResponseHash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal reports bytewise equality of two hashes.
func (h ResponseHash) Equal(other ResponseHash) bool {
	return h == other
}
