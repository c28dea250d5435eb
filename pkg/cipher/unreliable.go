package cipher

import (
	"sync"
	"sync/atomic"

	"github.com/backkem/screenview/pkg/crypto"
)

// Unreliable is an AEAD channel for lossy, unordered transports.
// The send counter travels with each message; received counters pass
// through a replay Window.
//
// Close may run while other goroutines still hold the cipher; their later
// calls fail with ErrClosed.
type Unreliable struct {
	// keyMu guards the keys against Close. Encrypt and Decrypt share it.
	keyMu  sync.RWMutex
	closed bool

	sendKey   crypto.Key
	recvKey   crypto.Key
	sendNonce atomic.Uint64
	window    *Window
	ad        []byte
}

// NewUnreliable creates an unreliable cipher with a DefaultWindowSize window.
func NewUnreliable(sendKey, recvKey crypto.Key, ad string) *Unreliable {
	return NewUnreliableWithWindow(sendKey, recvKey, ad, NewWindow(DefaultWindowSize))
}

// NewUnreliableWithWindow creates an unreliable cipher using window for
// replay protection.
func NewUnreliableWithWindow(sendKey, recvKey crypto.Key, ad string, window *Window) *Unreliable {
	return &Unreliable{
		sendKey: sendKey,
		recvKey: recvKey,
		window:  window,
		ad:      []byte(ad),
	}
}

// Encrypt seals plaintext and returns the ciphertext with the counter the
// receiver needs. Safe for concurrent use; every call gets a distinct counter.
func (c *Unreliable) Encrypt(plaintext []byte) ([]byte, uint64, error) {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	if c.closed {
		return nil, 0, ErrClosed
	}

	counter := c.sendNonce.Add(1) - 1
	if counter >= MaxNonce {
		return nil, 0, &NonceError{Direction: DirectionSend}
	}
	ciphertext, err := seal(&c.sendKey, counter, plaintext, c.ad)
	if err != nil {
		return nil, 0, err
	}
	return ciphertext, counter, nil
}

// Decrypt opens ciphertext sealed under counter. A counter that the window
// rejects fails with ErrMessageTooOld before any decryption is attempted.
// A counter is only marked as seen once its message authenticates.
func (c *Unreliable) Decrypt(ciphertext []byte, counter uint64) ([]byte, error) {
	if counter >= MaxNonce {
		return nil, &NonceError{Direction: DirectionReceive}
	}

	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.window.Check(counter) {
		return nil, tooOld(counter)
	}
	plaintext, err := open(&c.recvKey, counter, ciphertext, c.ad)
	if err != nil {
		return nil, err
	}
	if !c.window.CheckAndMark(counter) {
		return nil, tooOld(counter)
	}
	return plaintext, nil
}

// Close zeroes the keys once in-flight calls return, and exhausts the
// send counter.
func (c *Unreliable) Close() {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.closed = true
	c.sendKey.Zero()
	c.recvKey.Zero()
	c.sendNonce.Store(MaxNonce)
}
