// Package svsc implements the peer side of the session broker protocol.
//
// The server opens every connection with ProtocolVersion. Once the
// client has acknowledged a matching version it may request a lease,
// extend it, and ask the broker to connect it to the holder of another
// lease. Responses are only accepted while the matching request is
// outstanding. KeepAlive is echoed in every state.
package svsc

import (
	"sync"

	"github.com/pion/logging"

	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/wire"
)

// State is the client state.
type State int

const (
	// StateHandshake waits for the server's ProtocolVersion.
	StateHandshake State = iota
	// StateReady accepts broker traffic.
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// EventType identifies a change the application may react to.
type EventType int

const (
	// EventVersionBad reports that the server speaks another version.
	EventVersionBad EventType = iota
	// EventLeaseUpdate reports a new or extended lease.
	EventLeaseUpdate
	// EventLeaseRejected reports a refused LeaseRequest.
	EventLeaseRejected
	// EventLeaseExtensionRejected reports a refused LeaseExtensionRequest.
	EventLeaseExtensionRejected
	// EventSessionUpdate reports a newly established session.
	EventSessionUpdate
	// EventSessionRejected reports a refused EstablishSessionRequest.
	// Event.Status carries the reason.
	EventSessionRejected
	// EventSessionEnd reports that the session was torn down.
	EventSessionEnd
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventVersionBad:
		return "VersionBad"
	case EventLeaseUpdate:
		return "LeaseUpdate"
	case EventLeaseRejected:
		return "LeaseRejected"
	case EventLeaseExtensionRejected:
		return "LeaseExtensionRejected"
	case EventSessionUpdate:
		return "SessionUpdate"
	case EventSessionRejected:
		return "SessionRejected"
	case EventSessionEnd:
		return "SessionEnd"
	default:
		return "Unknown"
	}
}

// Event is emitted by Handle.
type Event struct {
	Type   EventType
	Status svscproto.Status // EventSessionRejected only
}

// Result is the outcome of handling one message.
type Result struct {
	// Outgoing are the messages to send to the server.
	Outgoing []wire.Message
	// Payload is the data of a SessionDataReceive.
	Payload []byte
	// Events are notifications for the application.
	Events []Event
}

// Session is the session the client is a member of.
type Session struct {
	Data svscproto.SessionData
	// Initiator is true when this client requested the session.
	Initiator bool
}

// Config configures a Client.
type Config struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client tracks one peer's view of its broker connection.
type Client struct {
	mu      sync.Mutex
	state   State
	lease   *svscproto.LeaseResponseData
	session *Session

	awaitingLease     bool
	awaitingExtension bool
	awaitingSession   bool

	log logging.LeveledLogger
}

// NewClient creates a client in StateHandshake.
func NewClient(config Config) *Client {
	c := &Client{}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("svsc")
	}
	return c
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lease returns a copy of the current lease, or nil.
func (c *Client) Lease() *svscproto.LeaseResponseData {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease == nil {
		return nil
	}
	l := *c.lease
	return &l
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// LeaseRequest asks for a new lease, or renews the lease of cookie.
func (c *Client) LeaseRequest(cookie *svscproto.Cookie) *svscproto.LeaseRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingLease = true
	return &svscproto.LeaseRequest{Cookie: cookie}
}

// LeaseExtensionRequest asks to extend the lease of cookie.
func (c *Client) LeaseExtensionRequest(cookie svscproto.Cookie) *svscproto.LeaseExtensionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingExtension = true
	return &svscproto.LeaseExtensionRequest{Cookie: cookie}
}

// EstablishSessionRequest asks to be connected to the holder of id.
func (c *Client) EstablishSessionRequest(id svscproto.LeaseID) *svscproto.EstablishSessionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingSession = true
	return &svscproto.EstablishSessionRequest{LeaseID: id}
}

// EndSession forgets the current session and returns the message that
// tells the broker.
func (c *Client) EndSession() *svscproto.SessionEnd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return &svscproto.SessionEnd{}
}

// Wrap frames data for the session peer.
func (c *Client) Wrap(data []byte) (*svscproto.SessionDataSend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	if len(data) > svscproto.MaxSessionData {
		return nil, ErrDataTooLarge
	}
	return &svscproto.SessionDataSend{Data: data}, nil
}

// Handle processes one message from the server.
func (c *Client) Handle(msg wire.Message) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &Result{}
	if _, ok := msg.(*svscproto.KeepAlive); ok {
		res.Outgoing = append(res.Outgoing, &svscproto.KeepAlive{})
		return res, nil
	}

	if c.state == StateHandshake {
		m, ok := msg.(*svscproto.ProtocolVersion)
		if !ok {
			return nil, c.wrong(msg)
		}
		accepted := m.Version == svscproto.Version
		res.Outgoing = append(res.Outgoing, &svscproto.ProtocolVersionResponse{OK: accepted})
		if !accepted {
			if c.log != nil {
				c.log.Warnf("server version %q not supported", m.Version)
			}
			res.emit(EventVersionBad)
			return res, nil
		}
		c.state = StateReady
		return res, nil
	}

	switch m := msg.(type) {
	case *svscproto.LeaseResponse:
		if !c.awaitingLease {
			return nil, c.wrong(msg)
		}
		c.awaitingLease = false
		if !m.Accepted() {
			res.emit(EventLeaseRejected)
			return res, nil
		}
		data := *m.Data
		c.lease = &data
		res.emit(EventLeaseUpdate)

	case *svscproto.LeaseExtensionResponse:
		if !c.awaitingExtension {
			return nil, c.wrong(msg)
		}
		c.awaitingExtension = false
		if !m.Extended() {
			res.emit(EventLeaseExtensionRejected)
			return res, nil
		}
		if c.lease != nil {
			c.lease.Expiration = *m.NewExpiration
		}
		res.emit(EventLeaseUpdate)

	case *svscproto.EstablishSessionResponse:
		if !c.awaitingSession {
			return nil, c.wrong(msg)
		}
		c.awaitingSession = false
		if m.Status != svscproto.StatusSuccess || m.Data == nil {
			res.Events = append(res.Events, Event{Type: EventSessionRejected, Status: m.Status})
			return res, nil
		}
		c.session = &Session{Data: *m.Data, Initiator: true}
		res.emit(EventSessionUpdate)

	case *svscproto.EstablishSessionNotification:
		c.session = &Session{Data: m.Data}
		res.emit(EventSessionUpdate)

	case *svscproto.SessionEnd, *svscproto.SessionEndNotification:
		c.session = nil
		res.emit(EventSessionEnd)

	case *svscproto.SessionDataReceive:
		if c.session == nil {
			return nil, c.wrong(msg)
		}
		res.Payload = m.Data

	default:
		return nil, c.wrong(msg)
	}
	return res, nil
}

func (c *Client) wrong(msg wire.Message) error {
	err := &WrongMessageError{State: c.state, MessageID: msg.MessageID()}
	if c.log != nil {
		c.log.Warnf("%v", err)
	}
	return err
}

func (r *Result) emit(t EventType) {
	r.Events = append(r.Events, Event{Type: t})
}
