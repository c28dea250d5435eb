// Package integration provides test infrastructure for ScreenView E2E tests.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/peer"
	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/rendezvous"
	"github.com/backkem/screenview/pkg/server"
)

// TestPair holds a host and a client that reached each other through a
// rendezvous server and completed the direct-connect handshake over the
// brokered session.
//
// Example usage:
//
//	pair := NewTestPair(t, DefaultTestPairConfig())
//	defer pair.Close()
//	pair.Client.Send([]byte("hello"))
type TestPair struct {
	// Server is the rendezvous server both peers are attached to.
	Server *server.Server

	// Host is the direct-connect host serving the brokered session.
	Host *peer.Host

	// HostSession is the accepted session on the host side.
	HostSession *peer.Session

	// Client is the authenticated client side.
	Client *peer.ClientSession

	// Received carries every payload the host receives.
	Received chan []byte

	// Lease is the lease the host published.
	Lease *svscproto.LeaseResponseData

	hostRV   *rendezvous.Client
	clientRV *rendezvous.Client
	cancel   context.CancelFunc
	ctx      context.Context
}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	// HostPassword is the static password the host offers.
	HostPassword string

	// ClientPassword is the password the client answers with.
	ClientPassword string

	// Timeout bounds the whole setup. Defaults to 10 seconds.
	Timeout time.Duration

	// LoggerFactory for logging. If nil, uses DefaultLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// DefaultTestPairConfig returns default configuration for test pairs.
func DefaultTestPairConfig() TestPairConfig {
	return TestPairConfig{
		HostPassword:   "correct horse",
		ClientPassword: "correct horse",
		Timeout:        10 * time.Second,
	}
}

// NewTestPair starts a server and connects a host and a client through it.
// Setup failures other than the client handshake fail the test; the
// handshake error is returned so tests can check refusals.
func NewTestPair(t *testing.T, config TestPairConfig) (*TestPair, error) {
	t.Helper()

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	p := &TestPair{
		Received: make(chan []byte, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.Cleanup(p.Close)

	srv, err := server.New(server.Config{
		TCPAddr:       "127.0.0.1:0",
		UDPAddr:       "127.0.0.1:0",
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("server Start failed: %v", err)
	}
	p.Server = srv

	sessions := make(chan *peer.Session, 1)
	host, err := peer.NewHost(peer.HostConfig{
		ListenAddr:     "127.0.0.1:0",
		StaticPassword: []byte(config.HostPassword),
		OnSession:      func(s *peer.Session) { sessions <- s },
		OnData:         func(s *peer.Session, b []byte) { p.Received <- b },
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		t.Fatalf("NewHost failed: %v", err)
	}
	if err := host.Start(); err != nil {
		t.Fatalf("host Start failed: %v", err)
	}
	p.Host = host

	addr := srv.TCPAddr().String()
	rvConfig := rendezvous.Config{LoggerFactory: loggerFactory}
	if p.hostRV, err = rendezvous.Dial(ctx, addr, rvConfig); err != nil {
		t.Fatalf("host rendezvous Dial failed: %v", err)
	}
	if p.clientRV, err = rendezvous.Dial(ctx, addr, rvConfig); err != nil {
		t.Fatalf("client rendezvous Dial failed: %v", err)
	}
	if p.Lease, err = p.hostRV.Lease(ctx, nil); err != nil {
		t.Fatalf("Lease failed: %v", err)
	}

	// The host answers the first brokered session.
	go func() {
		sc, err := p.hostRV.Accept(ctx)
		if err != nil {
			return
		}
		if err := host.Serve(sc); err != nil {
			sc.Close()
		}
	}()

	conn, err := p.clientRV.Connect(ctx, p.Lease.ID)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	p.Client, err = peer.Handshake(ctx, conn, peer.ClientConfig{
		Password: func(context.Context, wpskka.AuthSchemeType) ([]byte, error) {
			return []byte(config.ClientPassword), nil
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return p, err
	}

	select {
	case p.HostSession = <-sessions:
	case <-ctx.Done():
		t.Fatalf("host session not established: %v", ctx.Err())
	}
	return p, nil
}

// Close cleans up resources used by the pair. Safe to call twice.
func (p *TestPair) Close() {
	if p.Client != nil {
		p.Client.Close()
	}
	if p.clientRV != nil {
		p.clientRV.Close()
	}
	if p.hostRV != nil {
		p.hostRV.Close()
	}
	if p.Host != nil {
		p.Host.Stop()
	}
	if p.Server != nil {
		p.Server.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Context returns the context bounding the pair.
func (p *TestPair) Context() context.Context {
	return p.ctx
}
