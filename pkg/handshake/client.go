package handshake

import (
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/crypto"
	srpgroup "github.com/backkem/screenview/pkg/crypto/srp"
	"github.com/backkem/screenview/pkg/protocol/srp"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/wire"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Rand overrides the random source. Used by tests.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client is the requesting side of the handshake.
type Client struct {
	core

	offered []wpskka.AuthSchemeType
	scheme  wpskka.AuthSchemeType
	tried   bool

	hostHello    *srp.HostHello
	macKey       crypto.Key
	hostVerified bool
}

// NewClient creates a client handshake in StateInit. The client waits
// for the host's KeyExchange.
func NewClient(config ClientConfig) *Client {
	c := &Client{}
	c.init(RoleClient, config.Rand, config.LoggerFactory)
	c.onDestroy = c.macKey.Zero
	return c
}

// Offered returns the schemes received in AuthScheme.
func (c *Client) Offered() []wpskka.AuthSchemeType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offeredCopy()
}

func (c *Client) offeredCopy() []wpskka.AuthSchemeType {
	return append([]wpskka.AuthSchemeType(nil), c.offered...)
}

// Handle processes one message from the host.
func (c *Client) Handle(msg wire.Message) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInit:
		if m, ok := msg.(*wpskka.KeyExchange); ok {
			return c.handleKeyExchange(m)
		}
	case StateAuthSelect:
		switch m := msg.(type) {
		case *wpskka.AuthScheme:
			if c.offered == nil {
				return c.handleAuthScheme(m)
			}
		case *wpskka.AuthResult:
			if c.tried {
				return c.handleAuthResult(m)
			}
		}
	case StateAuthenticating:
		switch m := msg.(type) {
		case *wpskka.AuthMessage:
			return c.handleAuthMessage(m)
		case *wpskka.AuthResult:
			return c.handleAuthResult(m)
		}
	case StateData:
		return c.handleData(msg)
	}
	return nil, c.wrong(msg)
}

func (c *Client) handleKeyExchange(m *wpskka.KeyExchange) (*Result, error) {
	if err := c.generateKeyPair(); err != nil {
		c.fail()
		return nil, err
	}
	c.peerPublic = m.PublicKey
	c.setState(StateAuthSelect)

	res := &Result{}
	res.send(&wpskka.KeyExchange{PublicKey: c.keyPair.Public})
	return res, nil
}

func (c *Client) handleAuthScheme(m *wpskka.AuthScheme) (*Result, error) {
	c.offered = append(make([]wpskka.AuthSchemeType, 0, len(m.Schemes)), m.Schemes...)

	res := &Result{}
	res.Events = append(res.Events, Event{Type: EventAuthSchemes, Schemes: c.offeredCopy()})
	return res, nil
}

// TryAuth selects one of the offered schemes.
func (c *Client) TryAuth(scheme wpskka.AuthSchemeType) (*wpskka.TryAuth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthSelect || c.offered == nil || c.tried {
		return nil, fmt.Errorf("%w: try auth in state %s", ErrWrongMessageForState, c.state)
	}
	found := false
	for _, s := range c.offered {
		if s == scheme {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSchemeNotOffered, scheme)
	}
	if scheme == wpskka.AuthSchemePublicKey || !scheme.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}

	c.scheme = scheme
	c.tried = true
	if scheme.IsSRP() {
		c.setState(StateAuthenticating)
	}
	return &wpskka.TryAuth{AuthScheme: scheme}, nil
}

func (c *Client) handleAuthMessage(m *wpskka.AuthMessage) (*Result, error) {
	inner, err := srp.Decode(m.Data)
	if err != nil {
		c.fail()
		return nil, err
	}

	switch im := inner.(type) {
	case *srp.HostHello:
		if c.hostHello != nil || c.hostVerified {
			break
		}
		c.hostHello = im
		res := &Result{}
		res.emit(EventPasswordPrompt)
		return res, nil
	case *srp.HostVerify:
		if c.hostHello != nil || c.hostVerified || c.macKey == (crypto.Key{}) {
			break
		}
		if !crypto.VerifyHMAC(c.macKey[:], c.peerPublic[:], im.MAC[:]) {
			if c.log != nil {
				c.log.Warn("host MAC mismatch")
			}
			c.fail()
			return &Result{Events: []Event{{Type: EventAuthFailed}}}, fmt.Errorf("%w: host MAC mismatch", ErrAuthFailed)
		}
		c.hostVerified = true
		return &Result{}, nil
	}
	return nil, c.wrong(inner)
}

// ProcessPassword answers a pending EventPasswordPrompt.
func (c *Client) ProcessPassword(password []byte) (*wpskka.AuthMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticating || c.hostHello == nil {
		return nil, ErrNoPasswordPending
	}
	hello := c.hostHello
	c.hostHello = nil

	client, err := srpgroup.NewClient(hello.Username[:], password, hello.Salt[:], hello.BPub, c.rand)
	if err != nil {
		c.fail()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	key := client.SessionKey()
	c.macKey, err = crypto.KDF1(key, wpskka.AuthSRPContext)
	crypto.Zero(key)
	if err != nil {
		c.fail()
		return nil, err
	}

	out := &srp.ClientHello{
		Username:  hello.Username,
		PublicKey: crypto.Fingerprint(c.keyPair.Public[:]),
		MAC:       crypto.HMAC(c.macKey[:], c.keyPair.Public[:]),
	}
	copy(out.APub[:], client.Public())

	data, err := srp.Encode(out)
	if err != nil {
		c.fail()
		return nil, err
	}
	return &wpskka.AuthMessage{Data: data}, nil
}

func (c *Client) handleAuthResult(m *wpskka.AuthResult) (*Result, error) {
	res := &Result{}
	if !m.OK {
		if c.log != nil {
			c.log.Warnf("host rejected %s", c.scheme)
		}
		res.emit(EventAuthFailed)
		c.fail()
		return res, ErrAuthFailed
	}
	if c.scheme.IsSRP() && !c.hostVerified {
		if c.log != nil {
			c.log.Warn("auth result before host verification")
		}
		res.emit(EventAuthFailed)
		c.fail()
		return res, fmt.Errorf("%w: host not verified", ErrAuthFailed)
	}
	if err := c.establish(); err != nil {
		return nil, err
	}
	c.macKey.Zero()
	res.emit(EventAuthSuccessful)
	return res, nil
}
