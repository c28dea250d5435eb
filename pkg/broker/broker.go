// Package broker implements the rendezvous server's session broker.
//
// Peers connect, confirm the protocol version, take out a lease and
// publish its id out of band. Another peer asks the broker to establish a
// session with that lease id; the broker checks both sides are free,
// creates the session and tells both members. While the session lasts the
// broker relays opaque SessionData between the members and answers
// relay lookups for the unreliable channel.
//
// The broker performs no I/O. Every call returns the messages to deliver
// and the caller writes them to the addressed connections.
//
//	b := broker.New(broker.Config{})
//	out, _ := b.Attach(conn)          // ProtocolVersion for conn
//	out, err := b.Handle(conn, msg)   // responses and notifications
//	out = b.Detach(conn)              // SessionEndNotification for the peer
package broker

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/crypto"
	"github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/wire"
)

// Defaults.
const (
	DefaultLeaseDuration     = time.Hour
	DefaultMaxLeases         = 10000
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultKeepAliveTimeout  = time.Minute
)

// ConnID identifies a peer connection to the broker. Zero is never a
// valid id.
type ConnID uint64

// Outgoing is a message for one connection.
type Outgoing struct {
	Conn    ConnID
	Message wire.Message
}

// Config configures a Broker.
type Config struct {
	// LeaseDuration is the lifetime of a lease from its last renewal.
	// Default: DefaultLeaseDuration.
	LeaseDuration time.Duration

	// MaxLeases caps the number of live leases. New leases beyond it are
	// refused. Default: DefaultMaxLeases.
	MaxLeases int

	// KeepAliveInterval is the idle time after which Sweep probes a
	// connection with KeepAlive. Default: DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration

	// KeepAliveTimeout is the idle time after which Sweep reports a
	// connection as dead. Default: DefaultKeepAliveTimeout.
	KeepAliveTimeout time.Duration

	// Now overrides the clock. Used by tests.
	Now func() time.Time

	// Rand overrides the random source for ids, cookies and keys.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// conn is the broker's view of one connection.
type conn struct {
	id        ConnID
	versioned bool
	lease     *lease
	session   *session
	lastSeen  time.Time
	probed    bool
}

// Broker matches peers into sessions. It is safe for concurrent use.
type Broker struct {
	config Config
	log    logging.LeveledLogger

	mu       sync.Mutex
	conns    map[ConnID]*conn
	leases   *leaseTable
	sessions map[svsc.PeerID]*session
}

// New creates a broker.
func New(config Config) *Broker {
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = DefaultLeaseDuration
	}
	if config.MaxLeases <= 0 {
		config.MaxLeases = DefaultMaxLeases
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if config.KeepAliveTimeout <= 0 {
		config.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	b := &Broker{
		config:   config,
		conns:    make(map[ConnID]*conn),
		leases:   newLeaseTable(),
		sessions: make(map[svsc.PeerID]*session),
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("broker")
	}
	return b
}

// Attach registers a new connection and returns the ProtocolVersion that
// opens it.
func (b *Broker) Attach(id ConnID) ([]Outgoing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.conns[id]; ok || id == 0 {
		return nil, ErrConnectionExists
	}
	b.conns[id] = &conn{id: id, lastSeen: b.config.Now()}
	if b.log != nil {
		b.log.Debugf("connection %d attached", id)
	}
	return []Outgoing{{Conn: id, Message: &svsc.ProtocolVersion{Version: svsc.Version}}}, nil
}

// Detach removes a connection. Its session ends and the other member is
// notified. Its lease stays valid until it expires.
func (b *Broker) Detach(id ConnID) []Outgoing {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.conns[id]
	if !ok {
		return nil
	}
	out := b.endSession(c)
	if c.lease != nil && c.lease.holder == id {
		c.lease.holder = 0
	}
	delete(b.conns, id)
	if b.log != nil {
		b.log.Debugf("connection %d detached", id)
	}
	return out
}

// Handle processes one message received on connection id.
func (b *Broker) Handle(id ConnID, msg wire.Message) ([]Outgoing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	now := b.config.Now()
	c.lastSeen = now
	c.probed = false

	if _, ok := msg.(*svsc.KeepAlive); ok {
		return nil, nil
	}

	if !c.versioned {
		m, ok := msg.(*svsc.ProtocolVersionResponse)
		if !ok {
			return nil, b.wrong(c, msg)
		}
		if !m.OK {
			if b.log != nil {
				b.log.Infof("connection %d refused version %s", id, svsc.Version)
			}
			return nil, ErrVersionMismatch
		}
		c.versioned = true
		return nil, nil
	}

	switch m := msg.(type) {
	case *svsc.LeaseRequest:
		return b.handleLeaseRequest(c, m, now)
	case *svsc.LeaseExtensionRequest:
		return b.handleLeaseExtension(c, m, now), nil
	case *svsc.EstablishSessionRequest:
		return b.handleEstablishSession(c, m, now)
	case *svsc.SessionEnd:
		return b.endSession(c), nil
	case *svsc.SessionDataSend:
		if c.session == nil {
			return nil, ErrNotInSession
		}
		return []Outgoing{{Conn: c.session.other(c.id), Message: &svsc.SessionDataReceive{Data: m.Data}}}, nil
	default:
		return nil, b.wrong(c, msg)
	}
}

func (b *Broker) wrong(c *conn, msg wire.Message) error {
	err := &WrongMessageError{Conn: c.id, MessageID: msg.MessageID()}
	if b.log != nil {
		b.log.Warnf("%v", err)
	}
	return err
}

func (b *Broker) expiration(now time.Time) time.Time {
	// The wire carries whole seconds.
	return now.Add(b.config.LeaseDuration).Truncate(time.Second)
}

func (b *Broker) handleLeaseRequest(c *conn, m *svsc.LeaseRequest, now time.Time) ([]Outgoing, error) {
	reply := func(l *lease) []Outgoing {
		resp := &svsc.LeaseResponse{}
		if l != nil {
			resp.Data = l.data()
		}
		return []Outgoing{{Conn: c.id, Message: resp}}
	}

	if m.Cookie != nil {
		if l := b.leases.liveCookie(*m.Cookie, now); l != nil {
			l.expiration = b.expiration(now)
			b.hold(c, l)
			if b.log != nil {
				b.log.Debugf("lease %d renewed by connection %d", l.id, c.id)
			}
			return reply(l), nil
		}
	}

	// A fresh lease replaces the one this connection holds.
	if c.lease != nil && c.lease.holder == c.id {
		if b.log != nil {
			b.log.Debugf("lease %d released by connection %d", c.lease.id, c.id)
		}
		b.leases.remove(c.lease)
		c.lease = nil
	}

	if b.leases.len() >= b.config.MaxLeases {
		b.expireLeases(now)
		if b.leases.len() >= b.config.MaxLeases {
			if b.log != nil {
				b.log.Warnf("lease table full, refusing connection %d", c.id)
			}
			return reply(nil), nil
		}
	}

	l, err := b.leases.create(b.config.Rand, b.expiration(now))
	if err != nil {
		if b.log != nil {
			b.log.Errorf("failed to create lease: %v", err)
		}
		return reply(nil), err
	}
	b.hold(c, l)
	if b.log != nil {
		b.log.Infof("lease %d issued to connection %d", l.id, c.id)
	}
	return reply(l), nil
}

// hold makes c the holder of l, releasing whatever c held before.
func (b *Broker) hold(c *conn, l *lease) {
	if c.lease != nil && c.lease != l && c.lease.holder == c.id {
		c.lease.holder = 0
	}
	if prev, ok := b.conns[l.holder]; ok && prev != c {
		prev.lease = nil
	}
	l.holder = c.id
	c.lease = l
}

func (b *Broker) handleLeaseExtension(c *conn, m *svsc.LeaseExtensionRequest, now time.Time) []Outgoing {
	resp := &svsc.LeaseExtensionResponse{}
	if l := b.leases.liveCookie(m.Cookie, now); l != nil {
		l.expiration = b.expiration(now)
		exp := l.expiration
		resp.NewExpiration = &exp
	}
	return []Outgoing{{Conn: c.id, Message: resp}}
}

func (b *Broker) handleEstablishSession(c *conn, m *svsc.EstablishSessionRequest, now time.Time) ([]Outgoing, error) {
	reply := func(status svsc.Status, data *svsc.SessionData) Outgoing {
		return Outgoing{Conn: c.id, Message: &svsc.EstablishSessionResponse{LeaseID: m.LeaseID, Status: status, Data: data}}
	}

	l := b.leases.live(m.LeaseID, now)
	if l == nil {
		return []Outgoing{reply(svsc.StatusIDNotFound, nil)}, nil
	}
	if c.session != nil {
		return []Outgoing{reply(svsc.StatusSelfBusy, nil)}, nil
	}
	target, ok := b.conns[l.holder]
	if !ok || !target.versioned {
		return []Outgoing{reply(svsc.StatusPeerOffline, nil)}, nil
	}
	if target == c {
		return []Outgoing{reply(svsc.StatusOtherError, nil)}, nil
	}
	if target.session != nil {
		return []Outgoing{reply(svsc.StatusPeerBusy, nil)}, nil
	}

	s, err := b.newSession(c.id, target.id)
	if err != nil {
		if b.log != nil {
			b.log.Errorf("failed to create session: %v", err)
		}
		return []Outgoing{reply(svsc.StatusOtherError, nil)}, err
	}
	c.session = s
	target.session = s
	b.sessions[s.data.PeerID] = s
	if b.log != nil {
		b.log.Infof("session %s established between connections %d and %d", uuid.UUID(s.data.SessionID), c.id, target.id)
	}

	data := s.data
	return []Outgoing{
		reply(svsc.StatusSuccess, &data),
		{Conn: target.id, Message: &svsc.EstablishSessionNotification{Data: s.data}},
	}, nil
}

func (b *Broker) newSession(initiator, responder ConnID) (*session, error) {
	sessionID, err := b.uuid()
	if err != nil {
		return nil, err
	}
	peerID, err := b.uuid()
	if err != nil {
		return nil, err
	}
	s := &session{members: [2]ConnID{initiator, responder}}
	s.data.SessionID = svsc.SessionID(sessionID)
	s.data.PeerID = svsc.PeerID(peerID)
	if err := crypto.ReadRandom(b.config.Rand, s.data.PeerKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Broker) uuid() (uuid.UUID, error) {
	if b.config.Rand != nil {
		return uuid.NewRandomFromReader(b.config.Rand)
	}
	return uuid.NewRandom()
}

// endSession tears down the session of c, if any, and notifies the
// other member.
func (b *Broker) endSession(c *conn) []Outgoing {
	s := c.session
	if s == nil {
		return nil
	}
	delete(b.sessions, s.data.PeerID)
	var out []Outgoing
	for _, id := range s.members {
		if m, ok := b.conns[id]; ok {
			m.session = nil
		}
		if id != c.id {
			out = append(out, Outgoing{Conn: id, Message: &svsc.SessionEndNotification{}})
		}
	}
	if b.log != nil {
		b.log.Infof("session %s ended by connection %d", uuid.UUID(s.data.SessionID), c.id)
	}
	return out
}

// SweepResult is the outcome of Sweep.
type SweepResult struct {
	// Outgoing are KeepAlive probes for idle connections.
	Outgoing []Outgoing
	// Dead are connections idle past the keepalive timeout. The caller
	// closes them and calls Detach.
	Dead []ConnID
	// ExpiredLeases is the number of leases removed.
	ExpiredLeases int
}

// Sweep expires leases and checks connection liveness. The caller runs it
// periodically.
func (b *Broker) Sweep() SweepResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Now()
	res := SweepResult{ExpiredLeases: b.expireLeases(now)}

	for id, c := range b.conns {
		idle := now.Sub(c.lastSeen)
		switch {
		case idle >= b.config.KeepAliveTimeout:
			res.Dead = append(res.Dead, id)
		case idle >= b.config.KeepAliveInterval && !c.probed:
			c.probed = true
			res.Outgoing = append(res.Outgoing, Outgoing{Conn: id, Message: &svsc.KeepAlive{}})
		}
	}
	return res
}

func (b *Broker) expireLeases(now time.Time) int {
	expired := b.leases.expire(now)
	for _, l := range expired {
		if c, ok := b.conns[l.holder]; ok && c.lease == l {
			c.lease = nil
		}
		if b.log != nil {
			b.log.Debugf("lease %d expired", l.id)
		}
	}
	return len(expired)
}

// SessionActive reports whether peerID addresses a live session.
func (b *Broker) SessionActive(peerID svsc.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[peerID]
	return ok
}

// Stats is a snapshot of the broker tables.
type Stats struct {
	Connections int
	Leases      int
	Sessions    int
}

// Stats returns the current table sizes.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Connections: len(b.conns),
		Leases:      b.leases.len(),
		Sessions:    len(b.sessions),
	}
}
