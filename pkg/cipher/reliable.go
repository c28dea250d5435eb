package cipher

import (
	"sync"

	"github.com/backkem/screenview/pkg/crypto"
)

// Reliable is an AEAD channel for ordered, lossless transports.
// Both directions start at counter zero and advance by one per message;
// the counter is never transmitted.
type Reliable struct {
	mu        sync.Mutex
	sendKey   crypto.Key
	recvKey   crypto.Key
	sendNonce uint64
	recvNonce uint64
	ad        []byte
}

// NewReliable creates a reliable cipher. ad is authenticated with every
// message and separates this channel from others keyed by the same secret.
func NewReliable(sendKey, recvKey crypto.Key, ad string) *Reliable {
	return &Reliable{
		sendKey: sendKey,
		recvKey: recvKey,
		ad:      []byte(ad),
	}
}

// Encrypt seals plaintext under the next send counter.
func (c *Reliable) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendNonce >= MaxNonce {
		return nil, &NonceError{Direction: DirectionSend}
	}
	ciphertext, err := seal(&c.sendKey, c.sendNonce, plaintext, c.ad)
	if err != nil {
		return nil, err
	}
	c.sendNonce++
	return ciphertext, nil
}

// Decrypt opens ciphertext under the next receive counter. The counter
// only advances on success.
func (c *Reliable) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recvNonce >= MaxNonce {
		return nil, &NonceError{Direction: DirectionReceive}
	}
	plaintext, err := open(&c.recvKey, c.recvNonce, ciphertext, c.ad)
	if err != nil {
		return nil, err
	}
	c.recvNonce++
	return plaintext, nil
}

// Counters returns the next send and receive counters.
func (c *Reliable) Counters() (send, recv uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendNonce, c.recvNonce
}

// Close zeroes the keys. The cipher must not be used afterwards.
func (c *Reliable) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendKey.Zero()
	c.recvKey.Zero()
	c.sendNonce = MaxNonce
	c.recvNonce = MaxNonce
}
