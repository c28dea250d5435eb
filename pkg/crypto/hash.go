// Package crypto provides the primitives used by the ScreenView protocol
// layers: BLAKE3 hashing, HKDF and HMAC over BLAKE3, X25519 key agreement
// and ChaCha20-Poly1305 AEAD.
package crypto

import (
	"hash"

	"lukechampine.com/blake3"
)

const (
	// HashLenBytes is the BLAKE3 output length used throughout the protocol.
	HashLenBytes = 32

	// FingerprintLenBytes is the length of a truncated public key digest.
	FingerprintLenBytes = 16
)

// Hash computes the 32-byte BLAKE3 digest of the concatenation of parts.
func Hash(parts ...[]byte) [HashLenBytes]byte {
	h := NewHash()
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashLenBytes]byte
	h.Sum(out[:0])
	return out
}

// NewHash returns a hash.Hash computing 32-byte BLAKE3 digests.
func NewHash() hash.Hash {
	return blake3.New(HashLenBytes, nil)
}

// Fingerprint returns the first 16 bytes of the BLAKE3 digest of key.
// It identifies a public key inside messages with a 16-byte field.
func Fingerprint(key []byte) [FingerprintLenBytes]byte {
	sum := blake3.Sum256(key)
	var out [FingerprintLenBytes]byte
	copy(out[:], sum[:FingerprintLenBytes])
	return out
}
