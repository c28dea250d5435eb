package crypto

import (
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519 sizes.
const (
	PublicKeyLenBytes  = curve25519.PointSize
	PrivateKeyLenBytes = curve25519.ScalarSize
)

// ErrInvalidPublicKey is returned when a peer public key yields a low-order result.
var ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	Public  [PublicKeyLenBytes]byte
	private [PrivateKeyLenBytes]byte
}

// GenerateKeyPair creates a key pair from rand, or from the system
// source when rand is nil.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	kp := &KeyPair{}
	if err := ReadRandom(rand, kp.private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret with peer.
func (kp *KeyPair) SharedSecret(peer []byte) ([]byte, error) {
	if len(peer) != PublicKeyLenBytes {
		return nil, ErrInvalidPublicKey
	}
	secret, err := curve25519.X25519(kp.private[:], peer)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}

// Destroy zeroes the private key.
func (kp *KeyPair) Destroy() {
	Zero(kp.private[:])
}
