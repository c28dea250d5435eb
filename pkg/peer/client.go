package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/handshake"
	"github.com/backkem/screenview/pkg/protocol/rvd"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/transport"
	"github.com/backkem/screenview/pkg/wire"
)

// PasswordFunc supplies the password for scheme when the host asks for it.
type PasswordFunc func(ctx context.Context, scheme wpskka.AuthSchemeType) ([]byte, error)

// ClientConfig configures Connect and Handshake.
type ClientConfig struct {
	// ChooseScheme picks one of the offered schemes. Defaults to
	// PreferredScheme.
	ChooseScheme func(offered []wpskka.AuthSchemeType) (wpskka.AuthSchemeType, error)

	// Password is asked for the password of an SRP scheme.
	Password PasswordFunc

	// NewLayer returns the SEL layer of the connection.
	// Defaults to sel.Direct.
	NewLayer func() sel.Layer

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// PreferredScheme returns the first offered scheme this client can run.
func PreferredScheme(offered []wpskka.AuthSchemeType) (wpskka.AuthSchemeType, error) {
	for _, s := range offered {
		if s.IsSRP() || s == wpskka.AuthSchemeNone {
			return s, nil
		}
	}
	return 0, ErrNoScheme
}

// ClientSession is the client side of a direct connection. Received data
// is read with Receive.
type ClientSession struct {
	*Session
}

// Receive blocks for the next payload from the host.
func (s *ClientSession) Receive() ([]byte, error) {
	for {
		frame, err := s.conn.Receive()
		if err != nil {
			return nil, err
		}
		res, err := s.handle(frame)
		if err != nil {
			if s.State() == handshake.StateData {
				continue // dropped unreliable message
			}
			return nil, err
		}
		return res.Plaintext, nil
	}
}

// Connect dials a host and runs Handshake on the new connection.
func Connect(ctx context.Context, addr string, config ClientConfig) (*ClientSession, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return Handshake(ctx, conn, config)
}

// Handshake authenticates to the host on conn and completes the version
// check. The connection is closed when Handshake fails.
func Handshake(ctx context.Context, conn net.Conn, config ClientConfig) (*ClientSession, error) {
	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("peer")
	}
	var layer sel.Layer
	if config.NewLayer != nil {
		layer = config.NewLayer()
	}
	choose := config.ChooseScheme
	if choose == nil {
		choose = PreferredScheme
	}

	hs := handshake.NewClient(handshake.ClientConfig{LoggerFactory: config.LoggerFactory})
	s := &ClientSession{newSession(transport.NewConn(0, conn), hs, layer)}

	// Unblock reads when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	fail := func(err error) (*ClientSession, error) {
		s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	var scheme wpskka.AuthSchemeType
	for hs.State() != handshake.StateData {
		frame, err := s.conn.Receive()
		if err != nil {
			return fail(err)
		}
		res, err := s.handle(frame)
		if err != nil {
			return fail(err)
		}

		for _, ev := range res.Events {
			var out wire.Message
			switch ev.Type {
			case handshake.EventAuthSchemes:
				if scheme, err = choose(ev.Schemes); err != nil {
					return fail(err)
				}
				if log != nil {
					log.Debugf("trying %s of %v", scheme, ev.Schemes)
				}
				out, err = hs.TryAuth(scheme)
			case handshake.EventPasswordPrompt:
				if config.Password == nil {
					return fail(ErrNoPassword)
				}
				var password []byte
				if password, err = config.Password(ctx, scheme); err != nil {
					return fail(err)
				}
				out, err = hs.ProcessPassword(password)
			default:
				continue
			}
			if err != nil {
				return fail(err)
			}
			if err := s.send(out); err != nil {
				return fail(err)
			}
		}
	}

	payload, err := s.Receive()
	if err != nil {
		return fail(err)
	}
	m, err := rvd.Decode(payload)
	if err != nil {
		return fail(err)
	}
	version, ok := m.(*rvd.ProtocolVersion)
	if !ok {
		return fail(fmt.Errorf("%w: %T before version", ErrUnexpectedMessage, m))
	}
	resp := rvd.Negotiate(version)
	b, err := wire.Encode(resp)
	if err != nil {
		return fail(err)
	}
	if err := s.Send(b); err != nil {
		return fail(err)
	}
	if !resp.OK {
		return fail(fmt.Errorf("%w: host speaks %q", ErrVersionMismatch, version.Version))
	}

	if !stop() {
		// ctx ended after the last read; the deadline may already be set.
		return fail(ctx.Err())
	}
	if log != nil {
		log.Infof("connected to %s", conn.RemoteAddr())
	}
	return s, nil
}

// IsAuthFailure reports whether err means the host rejected the credentials.
func IsAuthFailure(err error) bool {
	return errors.Is(err, handshake.ErrAuthFailed)
}
