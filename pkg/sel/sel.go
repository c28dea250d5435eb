// Package sel implements the signaling encryption layer: the envelope
// between a peer and the rendezvous server.
//
// Reliable traffic travels in TransportDataMessageReliable over the
// server connection, which is protected by the surrounding TLS stream.
// Unreliable traffic is end-to-end encrypted with keys both session
// members derive from the SessionData handed out by the broker, and is
// relayed by the server (see Relay) without being decrypted.
//
// A Handler starts in StateHandshake. It sends PeerHello, waits for
// ServerHello and moves to StateData. Any message outside those rules
// moves it to StateFailed.
package sel

import (
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/cipher"
	"github.com/backkem/screenview/pkg/crypto"
	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	"github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/wire"
)

// State is the handler state.
type State int

const (
	StateHandshake State = iota
	StateData
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateData:
		return "Data"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Side selects the key order of the relayed unreliable channel. The peer
// that requested the session is the initiator.
type Side int

const (
	SideInitiator Side = iota
	SideResponder
)

// String returns the side name.
func (s Side) String() string {
	if s == SideInitiator {
		return "Initiator"
	}
	return "Responder"
}

// Config configures a Handler.
type Config struct {
	// PublicKey is announced in PeerHello.
	PublicKey [selproto.PublicKeyLen]byte

	// VerifyServer checks the ServerHello credentials. If nil, any
	// ServerHello is accepted.
	VerifyServer func(hello *selproto.ServerHello) error

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Handler is the peer side of the signaling encryption layer.
type Handler struct {
	mu         sync.Mutex
	state      State
	publicKey  [selproto.PublicKeyLen]byte
	verify     func(*selproto.ServerHello) error
	unreliable *cipher.Unreliable
	log        logging.LeveledLogger
}

// NewHandler creates a handler in StateHandshake.
func NewHandler(config Config) *Handler {
	h := &Handler{
		publicKey: config.PublicKey,
		verify:    config.VerifyServer,
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("sel")
	}
	return h
}

// State returns the current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Hello returns the PeerHello that opens the connection.
func (h *Handler) Hello() *selproto.PeerHello {
	return &selproto.PeerHello{PublicKey: h.publicKey}
}

// Handle processes one message from the server. It returns the carried
// payload for transport data messages and nil otherwise.
func (h *Handler) Handle(msg wire.Message) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateHandshake:
		if m, ok := msg.(*selproto.ServerHello); ok {
			return nil, h.handleServerHello(m)
		}
	case StateData:
		switch m := msg.(type) {
		case *selproto.TransportDataMessageReliable:
			return m.Data, nil
		case *selproto.TransportDataServerMessageUnreliable:
			if h.unreliable == nil {
				return nil, ErrNoUnreliableCipher
			}
			return h.unreliable.Decrypt(m.Data, m.Counter)
		}
	}

	err := &WrongMessageError{State: h.state, MessageID: msg.MessageID()}
	if h.log != nil {
		h.log.Warnf("%v", err)
	}
	h.state = StateFailed
	h.closeUnreliable()
	return nil, err
}

func (h *Handler) handleServerHello(m *selproto.ServerHello) error {
	if h.verify != nil {
		if err := h.verify(m); err != nil {
			h.state = StateFailed
			if h.log != nil {
				h.log.Warnf("server verification failed: %v", err)
			}
			return ErrServerRejected
		}
	}
	h.state = StateData
	if h.log != nil {
		h.log.Debug("server accepted")
	}
	return nil
}

// DeriveUnreliable replaces the unreliable cipher with one keyed from
// the session data. Both members of a session pass the same values and
// opposite sides.
// The previous cipher is closed; holders of it get cipher.ErrClosed.
func (h *Handler) DeriveUnreliable(data svsc.SessionData, side Side) error {
	secret := make([]byte, 0, svsc.SessionIDLen+svsc.PeerIDLen+svsc.PeerKeyLen)
	secret = append(secret, data.SessionID[:]...)
	secret = append(secret, data.PeerID[:]...)
	secret = append(secret, data.PeerKey[:]...)

	k0, k1, err := crypto.KDF2(secret, selproto.KDFContext)
	crypto.Zero(secret)
	if err != nil {
		return err
	}
	defer k0.Zero()
	defer k1.Zero()

	var c *cipher.Unreliable
	if side == SideInitiator {
		c = cipher.NewUnreliable(k0, k1, selproto.AEADContext)
	} else {
		c = cipher.NewUnreliable(k1, k0, selproto.AEADContext)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeUnreliable()
	h.unreliable = c
	return nil
}

// Unreliable returns the current unreliable cipher, or nil.
func (h *Handler) Unreliable() *cipher.Unreliable {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unreliable
}

// Close discards the unreliable keys.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateFailed
	h.closeUnreliable()
}

func (h *Handler) closeUnreliable() {
	if h.unreliable != nil {
		h.unreliable.Close()
		h.unreliable = nil
	}
}

// WrapReliable frames data for the server connection.
func WrapReliable(data []byte) *selproto.TransportDataMessageReliable {
	return &selproto.TransportDataMessageReliable{Data: data}
}

// WrapUnreliable encrypts data and addresses it to the session identified
// by peerID. The cipher is passed explicitly so senders on other
// goroutines do not contend on the handler.
func WrapUnreliable(data []byte, peerID svsc.PeerID, c *cipher.Unreliable) (*selproto.TransportDataPeerMessageUnreliable, error) {
	if c == nil {
		return nil, ErrNoUnreliableCipher
	}
	ct, counter, err := c.Encrypt(data)
	if err != nil {
		return nil, err
	}
	return &selproto.TransportDataPeerMessageUnreliable{
		PeerID:  peerID,
		Counter: counter,
		Data:    ct,
	}, nil
}
