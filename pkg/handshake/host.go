package handshake

import (
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/crypto"
	srpgroup "github.com/backkem/screenview/pkg/crypto/srp"
	"github.com/backkem/screenview/pkg/protocol/srp"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/wire"
)

// HostConfig configures a Host.
type HostConfig struct {
	// StaticPassword enables the SrpStatic scheme when set.
	StaticPassword []byte

	// DynamicPassword enables the SrpDynamic scheme when set. It can also
	// be provided later with SetDynamicPassword.
	DynamicPassword []byte

	// AllowNone offers the unauthenticated None scheme. Off by default.
	AllowNone bool

	// Rand overrides the random source. Used by tests.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Host is the accepting side of the handshake.
//
// Usage:
//
//	host := handshake.NewHost(handshake.HostConfig{StaticPassword: pw})
//	kx, _ := host.Start()
//	// send kx; for every received message:
//	res, err := host.Handle(msg)
//	// send res.Outgoing, deliver res.Plaintext
type Host struct {
	core

	staticPassword  []byte
	dynamicPassword []byte
	allowNone       bool

	scheme      wpskka.AuthSchemeType
	srpUsername [srp.UsernameLen]byte
	srpServer   *srpgroup.Server
}

// NewHost creates a host handshake in StateInit.
func NewHost(config HostConfig) *Host {
	h := &Host{
		staticPassword:  config.StaticPassword,
		dynamicPassword: config.DynamicPassword,
		allowNone:       config.AllowNone,
	}
	h.init(RoleHost, config.Rand, config.LoggerFactory)
	return h
}

// SetDynamicPassword sets the one-time password for the SrpDynamic
// scheme. It only affects schemes offered after the call.
func (h *Host) SetDynamicPassword(password []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dynamicPassword = password
}

// Schemes returns the schemes the host currently offers.
func (h *Host) Schemes() []wpskka.AuthSchemeType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schemes()
}

func (h *Host) schemes() []wpskka.AuthSchemeType {
	var s []wpskka.AuthSchemeType
	if h.dynamicPassword != nil {
		s = append(s, wpskka.AuthSchemeSrpDynamic)
	}
	if h.staticPassword != nil {
		s = append(s, wpskka.AuthSchemeSrpStatic)
	}
	if h.allowNone {
		s = append(s, wpskka.AuthSchemeNone)
	}
	return s
}

// Start generates the ephemeral key pair and returns the first message.
func (h *Host) Start() (*wpskka.KeyExchange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateInit {
		return nil, fmt.Errorf("%w: start in state %s", ErrWrongMessageForState, h.state)
	}
	if err := h.generateKeyPair(); err != nil {
		h.fail()
		return nil, err
	}
	h.setState(StateKeyExchange)
	return &wpskka.KeyExchange{PublicKey: h.keyPair.Public}, nil
}

// Handle processes one message from the client.
func (h *Host) Handle(msg wire.Message) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateKeyExchange:
		if m, ok := msg.(*wpskka.KeyExchange); ok {
			return h.handleKeyExchange(m)
		}
	case StateAuthSelect:
		if m, ok := msg.(*wpskka.TryAuth); ok {
			return h.handleTryAuth(m)
		}
	case StateAuthenticating:
		if m, ok := msg.(*wpskka.AuthMessage); ok {
			return h.handleAuthMessage(m)
		}
	case StateData:
		return h.handleData(msg)
	}
	return nil, h.wrong(msg)
}

func (h *Host) handleKeyExchange(m *wpskka.KeyExchange) (*Result, error) {
	h.peerPublic = m.PublicKey
	h.setState(StateAuthSelect)

	res := &Result{}
	res.send(&wpskka.AuthScheme{Schemes: h.schemes()})
	return res, nil
}

// reject answers with a failed AuthResult and fails the handshake.
func (h *Host) reject(reason string) (*Result, error) {
	if h.log != nil {
		h.log.Warnf("authentication failed: %s", reason)
	}
	res := &Result{}
	res.send(&wpskka.AuthResult{OK: false})
	res.emit(EventAuthFailed)
	h.fail()
	return res, fmt.Errorf("%w: %s", ErrAuthFailed, reason)
}

func (h *Host) offered(t wpskka.AuthSchemeType) bool {
	for _, s := range h.schemes() {
		if s == t {
			return true
		}
	}
	return false
}

func (h *Host) handleTryAuth(m *wpskka.TryAuth) (*Result, error) {
	if !h.offered(m.AuthScheme) {
		return h.reject(fmt.Sprintf("scheme %s not offered", m.AuthScheme))
	}
	h.scheme = m.AuthScheme

	if m.AuthScheme == wpskka.AuthSchemeNone {
		if err := h.establish(); err != nil {
			return nil, err
		}
		res := &Result{}
		res.send(&wpskka.AuthResult{OK: true})
		res.emit(EventAuthSuccessful)
		return res, nil
	}

	password := h.staticPassword
	if m.AuthScheme == wpskka.AuthSchemeSrpDynamic {
		password = h.dynamicPassword
	}

	// The host registers a fresh verifier for every attempt and then acts
	// as the SRP server against it.
	var salt [srp.SaltLen]byte
	if err := crypto.ReadRandom(h.rand, h.srpUsername[:]); err != nil {
		h.fail()
		return nil, err
	}
	if err := crypto.ReadRandom(h.rand, salt[:]); err != nil {
		h.fail()
		return nil, err
	}
	verifier := srpgroup.Verifier(h.srpUsername[:], password, salt[:])
	server, err := srpgroup.NewServer(verifier, h.rand)
	if err != nil {
		h.fail()
		return nil, err
	}
	h.srpServer = server

	data, err := srp.Encode(&srp.HostHello{
		Username: h.srpUsername,
		Salt:     salt,
		BPub:     server.Public(),
	})
	if err != nil {
		h.fail()
		return nil, err
	}
	h.setState(StateAuthenticating)

	res := &Result{}
	res.send(&wpskka.AuthMessage{Data: data})
	return res, nil
}

func (h *Host) handleAuthMessage(m *wpskka.AuthMessage) (*Result, error) {
	inner, err := srp.Decode(m.Data)
	if err != nil {
		h.fail()
		return nil, err
	}
	hello, ok := inner.(*srp.ClientHello)
	if !ok {
		return nil, h.wrong(inner)
	}

	if subtle.ConstantTimeCompare(hello.Username[:], h.srpUsername[:]) != 1 {
		return h.reject("username mismatch")
	}
	if crypto.Fingerprint(h.peerPublic[:]) != hello.PublicKey {
		return h.reject("public key does not match key exchange")
	}
	key, err := h.srpServer.SessionKey(hello.APub[:])
	if err != nil {
		return h.reject(err.Error())
	}
	macKey, err := crypto.KDF1(key, wpskka.AuthSRPContext)
	crypto.Zero(key)
	if err != nil {
		h.fail()
		return nil, err
	}
	defer macKey.Zero()

	if !crypto.VerifyHMAC(macKey[:], h.peerPublic[:], hello.MAC[:]) {
		return h.reject("client MAC mismatch")
	}

	verify := &srp.HostVerify{MAC: crypto.HMAC(macKey[:], h.keyPair.Public[:])}
	data, err := srp.Encode(verify)
	if err != nil {
		h.fail()
		return nil, err
	}
	if err := h.establish(); err != nil {
		return nil, err
	}
	h.srpServer = nil

	res := &Result{}
	res.send(&wpskka.AuthMessage{Data: data})
	res.send(&wpskka.AuthResult{OK: true})
	res.emit(EventAuthSuccessful)
	if h.log != nil {
		h.log.Infof("client authenticated with %s", h.scheme)
	}
	return res, nil
}
