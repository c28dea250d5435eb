package crypto

import (
	"crypto/hmac"
)

// MACLenBytes is the size of an HMAC-BLAKE3 tag.
const MACLenBytes = HashLenBytes

// HMAC computes HMAC-BLAKE3 (RFC 2104 over a 32-byte BLAKE3 digest).
//
// Parameters:
//   - key: MAC key of any length; keys longer than the block size are hashed
//   - message: Data to authenticate
//
// Returns the 32-byte tag.
func HMAC(key, message []byte) [MACLenBytes]byte {
	h := hmac.New(NewHash, key)
	h.Write(message)
	var result [MACLenBytes]byte
	h.Sum(result[:0])
	return result
}

// VerifyHMAC reports whether mac is the HMAC-BLAKE3 of message under key.
// The comparison is constant-time.
func VerifyHMAC(key, message, mac []byte) bool {
	expected := HMAC(key, message)
	return hmac.Equal(expected[:], mac)
}
