// Package cipher provides the authenticated ciphers that protect
// ScreenView traffic once a handshake has produced directional keys.
//
// Reliable is used on ordered transports: nonces are implicit and advance
// in lockstep on both sides. Unreliable is used on datagram transports:
// the sender transmits the counter with each message and the receiver
// filters replays through a Window.
//
// A nonce is never reused. Each direction stops working permanently once
// its counter reaches MaxNonce.
package cipher

import (
	"errors"
	"math"

	"github.com/backkem/screenview/pkg/crypto"
)

// MaxNonce is the first counter value that may not be used.
const MaxNonce uint64 = math.MaxInt64

func seal(key *crypto.Key, counter uint64, plaintext, ad []byte) ([]byte, error) {
	return crypto.Seal(key, counter, plaintext, ad)
}

func open(key *crypto.Key, counter uint64, ciphertext, ad []byte) ([]byte, error) {
	plaintext, err := crypto.Open(key, counter, ciphertext, ad)
	if err != nil {
		if errors.Is(err, crypto.ErrDecrypt) {
			return nil, ErrDecrypt
		}
		return nil, err
	}
	return plaintext, nil
}
