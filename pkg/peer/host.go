package peer

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/discovery"
	"github.com/backkem/screenview/pkg/handshake"
	"github.com/backkem/screenview/pkg/protocol/rvd"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/transport"
	"github.com/backkem/screenview/pkg/wire"
)

// HostConfig configures a Host.
type HostConfig struct {
	// ListenAddr is the TCP address to listen on. Ignored if Listener is set.
	ListenAddr string

	// Listener is an optional pre-existing listener.
	Listener net.Listener

	// StaticPassword, DynamicPassword and AllowNone select the offered
	// auth schemes; see handshake.HostConfig.
	StaticPassword  []byte
	DynamicPassword []byte
	AllowNone       bool

	// Advertise publishes the host over mDNS once started.
	Advertise bool

	// Name is the advertised display name.
	Name string

	// InstanceName is the advertised DNS-SD instance. Random if empty.
	InstanceName string

	// ServerFactory overrides the mDNS server. Used by tests.
	ServerFactory discovery.MDNSServerFactory

	// NewLayer returns the SEL layer of a new connection.
	// Defaults to sel.Direct.
	NewLayer func() sel.Layer

	// OnSession is called once a client is authenticated and accepted the
	// protocol version.
	OnSession func(s *Session)

	// OnData is called for every payload received on an accepted session.
	OnData func(s *Session, payload []byte)

	// OnClose is called when an accepted session ends.
	OnClose func(s *Session)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// hostConn is the per-connection state of a Host.
type hostConn struct {
	session   *Session
	versioned bool
}

// Host accepts direct connections.
//
// Frames of one connection are handled on that connection's read loop, so
// the state of a hostConn needs no locking.
type Host struct {
	config HostConfig
	tcp    *transport.TCP
	adv    *discovery.Advertiser
	log    logging.LeveledLogger

	mu              sync.Mutex
	conns           map[transport.ConnID]*hostConn
	dynamicPassword []byte
}

// NewHost creates a host listening on config.ListenAddr.
func NewHost(config HostConfig) (*Host, error) {
	h := &Host{
		config:          config,
		conns:           make(map[transport.ConnID]*hostConn),
		dynamicPassword: config.DynamicPassword,
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("peer")
	}

	tcp, err := transport.NewTCP(transport.TCPConfig{
		Listener:       config.Listener,
		ListenAddr:     config.ListenAddr,
		MessageHandler: h.onMessage,
		OnConnect:      h.onConnect,
		OnDisconnect:   h.onDisconnect,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	h.tcp = tcp
	return h, nil
}

// Addr returns the listening address.
func (h *Host) Addr() net.Addr {
	return h.tcp.LocalAddr()
}

// SetDynamicPassword replaces the one-time password for new connections.
// An empty password withdraws the dynamic scheme. The advertised schemes
// follow.
func (h *Host) SetDynamicPassword(password []byte) {
	h.mu.Lock()
	h.dynamicPassword = append([]byte(nil), password...)
	adv := h.adv
	h.mu.Unlock()

	if adv == nil {
		return
	}
	if err := adv.Update(h.txt()); err != nil && h.log != nil {
		h.log.Warnf("update advertisement: %v", err)
	}
}

func (h *Host) txt() discovery.HostTXT {
	return discovery.HostTXT{
		Name:    h.config.Name,
		Version: rvd.Version,
		Schemes: h.newHandshake().Schemes(),
	}
}

// Start accepts connections and, if configured, advertises the host.
func (h *Host) Start() error {
	if err := h.tcp.Start(); err != nil {
		return err
	}
	if !h.config.Advertise {
		return nil
	}

	port := 0
	if a, ok := h.tcp.LocalAddr().(*net.TCPAddr); ok {
		port = a.Port
	}
	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		InstanceName:  h.config.InstanceName,
		Port:          port,
		ServerFactory: h.config.ServerFactory,
		LoggerFactory: h.config.LoggerFactory,
	})
	if err != nil {
		h.tcp.Stop()
		return err
	}
	if err := adv.Start(h.txt()); err != nil {
		h.tcp.Stop()
		return err
	}
	h.mu.Lock()
	h.adv = adv
	h.mu.Unlock()
	return nil
}

// Serve runs the host protocol on a connection accepted elsewhere, such
// as a session brokered by a rendezvous server.
func (h *Host) Serve(conn net.Conn) error {
	_, err := h.tcp.AddConnection(conn)
	return err
}

// Stop stops advertising and closes every connection.
func (h *Host) Stop() error {
	if adv := h.Advertiser(); adv != nil {
		adv.Close()
	}
	return h.tcp.Stop()
}

// Advertiser returns the mDNS advertiser, or nil when not advertising.
func (h *Host) Advertiser() *discovery.Advertiser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adv
}

func (h *Host) newHandshake() *handshake.Host {
	h.mu.Lock()
	dynamic := h.dynamicPassword
	h.mu.Unlock()

	return handshake.NewHost(handshake.HostConfig{
		StaticPassword:  h.config.StaticPassword,
		DynamicPassword: dynamic,
		AllowNone:       h.config.AllowNone,
		LoggerFactory:   h.config.LoggerFactory,
	})
}

func (h *Host) onConnect(c *transport.Conn) {
	var layer sel.Layer
	if h.config.NewLayer != nil {
		layer = h.config.NewLayer()
	}
	hs := h.newHandshake()
	s := newSession(c, hs, layer)

	h.mu.Lock()
	h.conns[c.ID()] = &hostConn{session: s}
	h.mu.Unlock()

	kx, err := hs.Start()
	if err == nil {
		err = s.send(kx)
	}
	if err != nil {
		if h.log != nil {
			h.log.Warnf("connection %d: start handshake: %v", c.ID(), err)
		}
		c.Close()
	}
}

func (h *Host) onDisconnect(c *transport.Conn) {
	h.mu.Lock()
	hc := h.conns[c.ID()]
	delete(h.conns, c.ID())
	h.mu.Unlock()
	if hc == nil {
		return
	}

	hc.session.Close()
	if hc.versioned && h.config.OnClose != nil {
		h.config.OnClose(hc.session)
	}
}

func (h *Host) onMessage(msg *transport.ReceivedMessage) {
	h.mu.Lock()
	hc := h.conns[msg.Conn.ID()]
	h.mu.Unlock()
	if hc == nil {
		return
	}

	if err := h.process(hc, msg.Data); err != nil {
		if h.log != nil {
			h.log.Infof("connection %d from %s: %v", msg.Conn.ID(), msg.Addr, err)
		}
		msg.Conn.Close()
	}
}

// process handles one frame of a connection. A returned error closes
// the connection.
func (h *Host) process(hc *hostConn, frame []byte) error {
	s := hc.session
	if s.State() != handshake.StateData {
		if _, err := s.handle(frame); err != nil {
			return err
		}
		if s.State() == handshake.StateData {
			b, err := wire.Encode(&rvd.ProtocolVersion{Version: rvd.Version})
			if err != nil {
				return err
			}
			return s.Send(b)
		}
		return nil
	}

	res, err := s.handle(frame)
	if err != nil {
		// Unreliable data that fails to open only drops that message.
		if s.State() == handshake.StateData {
			if h.log != nil {
				h.log.Debugf("dropping message: %v", err)
			}
			return nil
		}
		return err
	}

	if !hc.versioned {
		m, err := rvd.Decode(res.Plaintext)
		if err != nil {
			return err
		}
		resp, ok := m.(*rvd.ProtocolVersionResponse)
		if !ok {
			return fmt.Errorf("%w: %T before version response", ErrUnexpectedMessage, m)
		}
		if !resp.OK {
			return ErrVersionMismatch
		}
		hc.versioned = true
		if h.log != nil {
			h.log.Infof("session established with %s", s.RemoteAddr())
		}
		if h.config.OnSession != nil {
			h.config.OnSession(s)
		}
		return nil
	}

	if h.config.OnData != nil {
		h.config.OnData(s, res.Plaintext)
	}
	return nil
}
