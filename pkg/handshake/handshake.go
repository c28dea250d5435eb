// Package handshake implements the peer-to-peer key exchange and
// authentication state machine that precedes encrypted traffic between a
// host and a client.
//
// Flow (SRP scheme):
//
//	Host                                   Client
//	----                                   ------
//	Start()              --KeyExchange-->
//	                     <--KeyExchange--  Handle(KeyExchange)
//	Handle(KeyExchange)  --AuthScheme--->  Handle(AuthScheme): EventAuthSchemes
//	                     <--TryAuth------  TryAuth(scheme)
//	Handle(TryAuth)      --AuthMessage-->  Handle(AuthMessage): EventPasswordPrompt
//	                     <--AuthMessage--  ProcessPassword(password)
//	Handle(AuthMessage)  --AuthMessage-->  Handle(AuthMessage): host verified
//	                     --AuthResult--->  Handle(AuthResult): StateData
//
// The None scheme skips the AuthMessage exchange; the host answers
// TryAuth with AuthResult directly. Both sides derive four directional
// keys from the X25519 shared secret and move to StateData, where only
// transport data messages are accepted.
//
// States only move forward. Any unexpected message, failed MAC or
// rejected scheme moves the machine to StateFailed and zeroes its key
// material.
package handshake

import (
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/wire"
)

// Role represents the handshake participant role.
type Role int

const (
	// RoleHost is the side being accessed. It holds the password.
	RoleHost Role = iota
	// RoleClient is the side requesting access.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "Host"
	case RoleClient:
		return "Client"
	default:
		return "Unknown"
	}
}

// State represents the handshake state machine.
type State int

const (
	StateInit State = iota
	StateKeyExchange    // Host: sent KeyExchange
	StateAuthSelect     // keys exchanged, scheme not chosen yet
	StateAuthenticating // scheme chosen, exchange in progress
	StateData           // ciphers established
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateKeyExchange:
		return "KeyExchange"
	case StateAuthSelect:
		return "AuthSelect"
	case StateAuthenticating:
		return "Authenticating"
	case StateData:
		return "Data"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// EventType identifies something the application must react to.
type EventType int

const (
	// EventAuthSchemes carries the schemes offered by the host. The client
	// application answers with Client.TryAuth.
	EventAuthSchemes EventType = iota
	// EventPasswordPrompt asks the client application for the password.
	// It answers with Client.ProcessPassword.
	EventPasswordPrompt
	// EventAuthSuccessful reports that the handshake reached StateData.
	EventAuthSuccessful
	// EventAuthFailed reports that authentication failed.
	EventAuthFailed
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventAuthSchemes:
		return "AuthSchemes"
	case EventPasswordPrompt:
		return "PasswordPrompt"
	case EventAuthSuccessful:
		return "AuthSuccessful"
	case EventAuthFailed:
		return "AuthFailed"
	default:
		return "Unknown"
	}
}

// Event is emitted by Handle.
type Event struct {
	Type    EventType
	Schemes []wpskka.AuthSchemeType // EventAuthSchemes only
}

// Result is the outcome of handling one message.
type Result struct {
	// Outgoing are the messages to send to the peer, in order.
	Outgoing []wire.Message
	// Plaintext is the decrypted payload of a transport data message.
	Plaintext []byte
	// Events are notifications for the application.
	Events []Event
}

func (r *Result) send(m wire.Message) {
	r.Outgoing = append(r.Outgoing, m)
}

func (r *Result) emit(t EventType) {
	r.Events = append(r.Events, Event{Type: t})
}

// Handler is the role-independent view of a handshake.
type Handler interface {
	Role() Role
	State() State

	// Handle processes one incoming WPSKKA message. When the returned error
	// is ErrAuthFailed the Result still carries the rejection to send.
	Handle(msg wire.Message) (*Result, error)

	// WrapReliable encrypts plaintext for the ordered transport.
	WrapReliable(plaintext []byte) (*wpskka.TransportDataMessageReliable, error)

	// WrapUnreliable encrypts plaintext for the datagram transport.
	WrapUnreliable(plaintext []byte) (*wpskka.TransportDataMessageUnreliable, error)

	// Close discards all key material.
	Close()
}

var (
	_ Handler = (*Host)(nil)
	_ Handler = (*Client)(nil)
)
