package crypto

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD sizes.
const (
	NonceLenBytes = chacha20poly1305.NonceSize
	TagLenBytes   = chacha20poly1305.Overhead
)

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("crypto: message authentication failed")

// Nonce builds the 12-byte ChaCha20-Poly1305 nonce for counter: four zero
// bytes followed by the counter in little-endian order.
func Nonce(counter uint64) [NonceLenBytes]byte {
	var n [NonceLenBytes]byte
	binary.LittleEndian.PutUint64(n[4:], counter)
	return n
}

// Seal encrypts and authenticates with ChaCha20-Poly1305 (RFC 8439).
//
// Parameters:
//   - key: 32-byte symmetric key
//   - counter: Message counter; it must never repeat under the same key
//   - plaintext: Data to encrypt
//   - ad: Additional authenticated data, not encrypted
//
// Returns the ciphertext with the 16-byte tag appended.
func Seal(key *Key, counter uint64, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := Nonce(counter)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext produced by Seal.
func Open(key *Key, counter uint64, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := Nonce(counter)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
