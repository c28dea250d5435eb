// Package rvd defines the version negotiation of the remote visual
// display channel. The display payload itself is opaque to this module.
package rvd

import (
	"github.com/backkem/screenview/pkg/wire"
)

// Version is the RVD protocol version, exactly VersionLen bytes on the wire.
const (
	Version    = "RVD 001.000"
	VersionLen = 11
)

// Message identifiers.
const (
	IDProtocolVersion         uint8 = 0
	IDProtocolVersionResponse uint8 = 1
)

// Namespace holds the RVD version messages.
var Namespace = wire.NewNamespace("rvd")

func init() {
	Namespace.Register(IDProtocolVersion, func() wire.Message { return &ProtocolVersion{} })
	Namespace.Register(IDProtocolVersionResponse, func() wire.Message { return &ProtocolVersionResponse{} })
}

// Decode parses one RVD message.
func Decode(b []byte) (wire.Message, error) {
	return Namespace.Decode(b)
}

// ProtocolVersion is the first message the host sends after the handshake.
type ProtocolVersion struct {
	Version string
}

func (*ProtocolVersion) MessageID() uint8 { return IDProtocolVersion }

func (m *ProtocolVersion) ReadBody(r *wire.Reader) (err error) {
	m.Version, err = r.String(VersionLen)
	return err
}

func (m *ProtocolVersion) WriteBody(w *wire.Writer) error {
	return w.String(m.Version, VersionLen)
}

// ProtocolVersionResponse reports whether the client accepts the version.
type ProtocolVersionResponse struct {
	OK bool
}

func (*ProtocolVersionResponse) MessageID() uint8 { return IDProtocolVersionResponse }

func (m *ProtocolVersionResponse) ReadBody(r *wire.Reader) (err error) {
	m.OK, err = r.Bool()
	return err
}

func (m *ProtocolVersionResponse) WriteBody(w *wire.Writer) error {
	w.Bool(m.OK)
	return nil
}

// Negotiate answers a ProtocolVersion, accepting only Version.
func Negotiate(m *ProtocolVersion) *ProtocolVersionResponse {
	return &ProtocolVersionResponse{OK: m.Version == Version}
}
