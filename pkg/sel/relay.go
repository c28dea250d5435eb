package sel

import (
	"net"
	"sync"

	"github.com/pion/logging"

	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	"github.com/backkem/screenview/pkg/protocol/svsc"
)

// SessionLookup reports whether a relay address belongs to an active
// session. It is implemented by the session broker.
type SessionLookup interface {
	SessionActive(peerID svsc.PeerID) bool
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	// Sessions decides which peer ids may be relayed. Required.
	Sessions SessionLookup

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Relay is the server side of the unreliable channel. It learns the
// datagram address of each session member from its first packet and
// forwards every later packet to the other member, without touching the
// ciphertext.
type Relay struct {
	sessions SessionLookup
	log      logging.LeveledLogger

	mu      sync.Mutex
	members map[svsc.PeerID]*relayMembers
}

type relayMembers struct {
	addrs [2]net.Addr
}

// index returns the slot of addr, claiming a free one if needed.
func (m *relayMembers) index(addr net.Addr) int {
	for i, a := range m.addrs {
		if a != nil && a.String() == addr.String() {
			return i
		}
	}
	for i, a := range m.addrs {
		if a == nil {
			m.addrs[i] = addr
			return i
		}
	}
	return -1
}

// NewRelay creates a relay.
func NewRelay(config RelayConfig) *Relay {
	r := &Relay{
		sessions: config.Sessions,
		members:  make(map[svsc.PeerID]*relayMembers),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("sel-relay")
	}
	return r
}

// Route rewrites a packet received from addr into the packet to send and
// the address to send it to.
func (r *Relay) Route(msg *selproto.TransportDataPeerMessageUnreliable, from net.Addr) (*selproto.TransportDataServerMessageUnreliable, net.Addr, error) {
	peerID := svsc.PeerID(msg.PeerID)
	if r.sessions == nil || !r.sessions.SessionActive(peerID) {
		r.Forget(peerID)
		return nil, nil, ErrUnknownPeer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[peerID]
	if !ok {
		m = &relayMembers{}
		r.members[peerID] = m
	}
	i := m.index(from)
	if i < 0 {
		if r.log != nil {
			r.log.Warnf("dropping packet from %s: session full", from)
		}
		return nil, nil, ErrRelayFull
	}
	to := m.addrs[1-i]
	if to == nil {
		return nil, nil, ErrPeerNotReady
	}
	return &selproto.TransportDataServerMessageUnreliable{
		Counter: msg.Counter,
		Data:    msg.Data,
	}, to, nil
}

// Forget drops the addresses learned for peerID.
func (r *Relay) Forget(peerID svsc.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, peerID)
}

// Prune drops every session that is no longer active.
func (r *Relay) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.members {
		if r.sessions == nil || !r.sessions.SessionActive(id) {
			delete(r.members, id)
			n++
		}
	}
	return n
}

// Len returns the number of sessions with known addresses.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
