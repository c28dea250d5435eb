// Package svsc defines the messages exchanged between a peer and the
// rendezvous server's session broker: protocol version negotiation,
// leases, session establishment, session data relay and keepalive.
package svsc

import (
	"time"

	"github.com/backkem/screenview/pkg/wire"
)

// Version is the protocol version string exchanged first on every
// connection. It is always exactly VersionLen bytes on the wire.
const (
	Version    = "SVSC 001.000"
	VersionLen = 12
)

// Field sizes.
const (
	CookieLen    = 24
	SessionIDLen = 16
	PeerIDLen    = 16
	PeerKeyLen   = 16

	// MaxSessionData is the largest SessionDataSend payload.
	MaxSessionData = 0xFFFFFF
)

// Message identifiers.
const (
	IDProtocolVersion              uint8 = 0
	IDProtocolVersionResponse      uint8 = 1
	IDLeaseRequest                 uint8 = 2
	IDLeaseResponse                uint8 = 3
	IDLeaseExtensionRequest        uint8 = 4
	IDLeaseExtensionResponse       uint8 = 5
	IDEstablishSessionRequest      uint8 = 6
	IDEstablishSessionResponse     uint8 = 7
	IDEstablishSessionNotification uint8 = 8
	IDSessionEnd                   uint8 = 9
	IDSessionEndNotification       uint8 = 10
	IDSessionDataSend              uint8 = 11
	IDSessionDataReceive           uint8 = 12
	IDKeepAlive                    uint8 = 13
)

type (
	// Cookie is the secret a peer presents to renew its lease.
	Cookie [CookieLen]byte
	// LeaseID is the public identifier other peers use to reach a lease holder.
	LeaseID uint32
	// SessionID identifies a brokered session.
	SessionID [SessionIDLen]byte
	// PeerID identifies a peer to the relay.
	PeerID [PeerIDLen]byte
	// PeerKey is shared key material handed to both session members.
	PeerKey [PeerKeyLen]byte
)

// Namespace holds every SVSC message.
var Namespace = wire.NewNamespace("svsc")

func init() {
	Namespace.Register(IDProtocolVersion, func() wire.Message { return &ProtocolVersion{} })
	Namespace.Register(IDProtocolVersionResponse, func() wire.Message { return &ProtocolVersionResponse{} })
	Namespace.Register(IDLeaseRequest, func() wire.Message { return &LeaseRequest{} })
	Namespace.Register(IDLeaseResponse, func() wire.Message { return &LeaseResponse{} })
	Namespace.Register(IDLeaseExtensionRequest, func() wire.Message { return &LeaseExtensionRequest{} })
	Namespace.Register(IDLeaseExtensionResponse, func() wire.Message { return &LeaseExtensionResponse{} })
	Namespace.Register(IDEstablishSessionRequest, func() wire.Message { return &EstablishSessionRequest{} })
	Namespace.Register(IDEstablishSessionResponse, func() wire.Message { return &EstablishSessionResponse{} })
	Namespace.Register(IDEstablishSessionNotification, func() wire.Message { return &EstablishSessionNotification{} })
	Namespace.Register(IDSessionEnd, func() wire.Message { return &SessionEnd{} })
	Namespace.Register(IDSessionEndNotification, func() wire.Message { return &SessionEndNotification{} })
	Namespace.Register(IDSessionDataSend, func() wire.Message { return &SessionDataSend{} })
	Namespace.Register(IDSessionDataReceive, func() wire.Message { return &SessionDataReceive{} })
	Namespace.Register(IDKeepAlive, func() wire.Message { return &KeepAlive{} })
}

// Decode parses one SVSC message.
func Decode(b []byte) (wire.Message, error) {
	return Namespace.Decode(b)
}

// Encode serializes one SVSC message.
func Encode(m wire.Message) ([]byte, error) {
	return wire.Encode(m)
}

func readTime(r *wire.Reader) (time.Time, error) {
	v, err := r.U64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0).UTC(), nil
}

func writeTime(w *wire.Writer, t time.Time) {
	w.U64(uint64(t.Unix()))
}
