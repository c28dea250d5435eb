package handshake

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/cipher"
	"github.com/backkem/screenview/pkg/crypto"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/wire"
)

// MaxPlaintext is the largest payload a transport data message can carry.
const MaxPlaintext = 0xFFFF - crypto.TagLenBytes

// core holds the state shared by both roles. Callers hold mu.
type core struct {
	mu    sync.Mutex
	role  Role
	state State

	keyPair    *crypto.KeyPair
	peerPublic [wpskka.PublicKeyLen]byte

	reliable   *cipher.Reliable
	unreliable *cipher.Unreliable

	rand io.Reader
	log  logging.LeveledLogger

	// onDestroy zeroes role specific secrets.
	onDestroy func()
}

func (c *core) init(role Role, rand io.Reader, factory logging.LoggerFactory) {
	c.role = role
	c.state = StateInit
	c.rand = rand
	if factory != nil {
		c.log = factory.NewLogger("handshake")
	}
}

func (c *core) setState(s State) {
	if c.log != nil {
		c.log.Debugf("%s: %s -> %s", c.role, c.state, s)
	}
	c.state = s
}

// fail moves to StateFailed and discards key material.
func (c *core) fail() {
	c.setState(StateFailed)
	c.destroy()
}

func (c *core) wrong(msg wire.Message) error {
	err := &WrongMessageError{Role: c.role, State: c.state, MessageID: msg.MessageID()}
	if c.log != nil {
		c.log.Warnf("%v", err)
	}
	c.fail()
	return err
}

func (c *core) generateKeyPair() error {
	kp, err := crypto.GenerateKeyPair(c.rand)
	if err != nil {
		return fmt.Errorf("handshake: generate key pair: %w", err)
	}
	c.keyPair = kp
	return nil
}

// deriveCiphers runs X25519 with the peer key and splits KDF4 output into
// directional keys. The host sends on keys 0 and 2, the client on 1 and 3.
func (c *core) deriveCiphers() error {
	secret, err := c.keyPair.SharedSecret(c.peerPublic[:])
	if err != nil {
		return err
	}
	keys, err := crypto.KDF4(secret, wpskka.KDFContext)
	crypto.Zero(secret)
	if err != nil {
		return err
	}
	defer func() {
		for i := range keys {
			keys[i].Zero()
		}
	}()

	if c.role == RoleHost {
		c.reliable = cipher.NewReliable(keys[0], keys[1], wpskka.AEADReliableContext)
		c.unreliable = cipher.NewUnreliable(keys[2], keys[3], wpskka.AEADUnreliableContext)
	} else {
		c.reliable = cipher.NewReliable(keys[1], keys[0], wpskka.AEADReliableContext)
		c.unreliable = cipher.NewUnreliable(keys[3], keys[2], wpskka.AEADUnreliableContext)
	}
	c.keyPair.Destroy()
	return nil
}

// establish derives ciphers and enters StateData.
func (c *core) establish() error {
	if err := c.deriveCiphers(); err != nil {
		c.fail()
		return fmt.Errorf("handshake: derive keys: %w", err)
	}
	c.setState(StateData)
	return nil
}

// handleData decrypts a transport message. Reliable channel failures are
// fatal because both sides lose nonce synchronization; an unreliable
// message that fails only drops that message.
func (c *core) handleData(msg wire.Message) (*Result, error) {
	switch m := msg.(type) {
	case *wpskka.TransportDataMessageReliable:
		pt, err := c.reliable.Decrypt(m.Data)
		if err != nil {
			c.fail()
			return nil, err
		}
		return &Result{Plaintext: pt}, nil
	case *wpskka.TransportDataMessageUnreliable:
		pt, err := c.unreliable.Decrypt(m.Data, m.Counter)
		if err != nil {
			return nil, err
		}
		return &Result{Plaintext: pt}, nil
	default:
		return nil, c.wrong(msg)
	}
}

func (c *core) wrapReliable(plaintext []byte) (*wpskka.TransportDataMessageReliable, error) {
	if c.state != StateData {
		return nil, ErrNotEstablished
	}
	if len(plaintext) > MaxPlaintext {
		return nil, ErrMessageTooLarge
	}
	ct, err := c.reliable.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &wpskka.TransportDataMessageReliable{Data: ct}, nil
}

func (c *core) wrapUnreliable(plaintext []byte) (*wpskka.TransportDataMessageUnreliable, error) {
	if c.state != StateData {
		return nil, ErrNotEstablished
	}
	if len(plaintext) > MaxPlaintext {
		return nil, ErrMessageTooLarge
	}
	ct, counter, err := c.unreliable.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &wpskka.TransportDataMessageUnreliable{Counter: counter, Data: ct}, nil
}

func (c *core) destroy() {
	if c.onDestroy != nil {
		c.onDestroy()
	}
	if c.keyPair != nil {
		c.keyPair.Destroy()
	}
	if c.reliable != nil {
		c.reliable.Close()
	}
	if c.unreliable != nil {
		c.unreliable.Close()
	}
}

// Role returns the participant role.
func (c *core) Role() Role {
	return c.role
}

// State returns the current state.
func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WrapReliable encrypts plaintext for the ordered transport.
func (c *core) WrapReliable(plaintext []byte) (*wpskka.TransportDataMessageReliable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapReliable(plaintext)
}

// WrapUnreliable encrypts plaintext for the datagram transport.
func (c *core) WrapUnreliable(plaintext []byte) (*wpskka.TransportDataMessageUnreliable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapUnreliable(plaintext)
}

// Close discards all key material. A closed handshake is in StateFailed.
func (c *core) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		c.fail()
	}
}
