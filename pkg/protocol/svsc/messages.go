package svsc

import (
	"fmt"
	"time"

	"github.com/backkem/screenview/pkg/wire"
)

// ProtocolVersion opens every connection.
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

// ProtocolVersionResponse reports whether the version is supported.
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

// LeaseRequest asks for a new lease, or renews the lease identified by
// Cookie when it is set.
type LeaseRequest struct {
	Cookie *Cookie
}

func (*LeaseRequest) MessageID() uint8 { return IDLeaseRequest }

func (m *LeaseRequest) ReadBody(r *wire.Reader) error {
	present, err := r.Bool()
	if err != nil || !present {
		return err
	}
	m.Cookie = new(Cookie)
	return r.Fixed(m.Cookie[:])
}

func (m *LeaseRequest) WriteBody(w *wire.Writer) error {
	w.Bool(m.Cookie != nil)
	if m.Cookie != nil {
		w.Raw(m.Cookie[:])
	}
	return nil
}

// LeaseResponseData describes a granted lease.
type LeaseResponseData struct {
	ID         LeaseID
	Cookie     Cookie
	Expiration time.Time
}

// LeaseResponse answers a LeaseRequest. Data is nil when the request was refused.
type LeaseResponse struct {
	Data *LeaseResponseData
}

func (*LeaseResponse) MessageID() uint8 { return IDLeaseResponse }

// Accepted reports whether a lease was granted.
func (m *LeaseResponse) Accepted() bool { return m.Data != nil }

func (m *LeaseResponse) ReadBody(r *wire.Reader) error {
	present, err := r.Bool()
	if err != nil || !present {
		return err
	}
	d := &LeaseResponseData{}
	id, err := r.U32()
	if err != nil {
		return err
	}
	d.ID = LeaseID(id)
	if err := r.Fixed(d.Cookie[:]); err != nil {
		return err
	}
	if d.Expiration, err = readTime(r); err != nil {
		return err
	}
	m.Data = d
	return nil
}

func (m *LeaseResponse) WriteBody(w *wire.Writer) error {
	w.Bool(m.Data != nil)
	if m.Data != nil {
		w.U32(uint32(m.Data.ID))
		w.Raw(m.Data.Cookie[:])
		writeTime(w, m.Data.Expiration)
	}
	return nil
}

// LeaseExtensionRequest extends the lease identified by Cookie.
type LeaseExtensionRequest struct {
	Cookie Cookie
}

func (*LeaseExtensionRequest) MessageID() uint8 { return IDLeaseExtensionRequest }

func (m *LeaseExtensionRequest) ReadBody(r *wire.Reader) error {
	return r.Fixed(m.Cookie[:])
}

func (m *LeaseExtensionRequest) WriteBody(w *wire.Writer) error {
	w.Raw(m.Cookie[:])
	return nil
}

// LeaseExtensionResponse carries the new expiration, or nil when the
// lease was not extended.
type LeaseExtensionResponse struct {
	NewExpiration *time.Time
}

func (*LeaseExtensionResponse) MessageID() uint8 { return IDLeaseExtensionResponse }

// Extended reports whether the lease was extended.
func (m *LeaseExtensionResponse) Extended() bool { return m.NewExpiration != nil }

func (m *LeaseExtensionResponse) ReadBody(r *wire.Reader) error {
	present, err := r.Bool()
	if err != nil || !present {
		return err
	}
	t, err := readTime(r)
	if err != nil {
		return err
	}
	m.NewExpiration = &t
	return nil
}

func (m *LeaseExtensionResponse) WriteBody(w *wire.Writer) error {
	w.Bool(m.NewExpiration != nil)
	if m.NewExpiration != nil {
		writeTime(w, *m.NewExpiration)
	}
	return nil
}

// EstablishSessionRequest asks the broker to connect to the holder of LeaseID.
type EstablishSessionRequest struct {
	LeaseID LeaseID
}

func (*EstablishSessionRequest) MessageID() uint8 { return IDEstablishSessionRequest }

func (m *EstablishSessionRequest) ReadBody(r *wire.Reader) error {
	id, err := r.U32()
	m.LeaseID = LeaseID(id)
	return err
}

func (m *EstablishSessionRequest) WriteBody(w *wire.Writer) error {
	w.U32(uint32(m.LeaseID))
	return nil
}

// Status is the outcome of an EstablishSessionRequest.
type Status uint8

const (
	StatusSuccess     Status = 0x00
	StatusIDNotFound  Status = 0x01
	StatusPeerOffline Status = 0x02
	StatusPeerBusy    Status = 0x03
	StatusSelfBusy    Status = 0x04
	StatusOtherError  Status = 0x05
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusIDNotFound:
		return "IDNotFound"
	case StatusPeerOffline:
		return "PeerOffline"
	case StatusPeerBusy:
		return "PeerBusy"
	case StatusSelfBusy:
		return "SelfBusy"
	case StatusOtherError:
		return "OtherError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsValid reports whether s is a defined status.
func (s Status) IsValid() bool {
	return s <= StatusOtherError
}

// SessionData is the triple both members of a session receive.
type SessionData struct {
	SessionID SessionID
	PeerID    PeerID
	PeerKey   PeerKey
}

func (d *SessionData) read(r *wire.Reader) error {
	if err := r.Fixed(d.SessionID[:]); err != nil {
		return err
	}
	if err := r.Fixed(d.PeerID[:]); err != nil {
		return err
	}
	return r.Fixed(d.PeerKey[:])
}

func (d *SessionData) write(w *wire.Writer) {
	w.Raw(d.SessionID[:])
	w.Raw(d.PeerID[:])
	w.Raw(d.PeerKey[:])
}

// EstablishSessionResponse answers an EstablishSessionRequest. Data is
// present exactly when Status is StatusSuccess.
type EstablishSessionResponse struct {
	LeaseID LeaseID
	Status  Status
	Data    *SessionData
}

func (*EstablishSessionResponse) MessageID() uint8 { return IDEstablishSessionResponse }

func (m *EstablishSessionResponse) ReadBody(r *wire.Reader) error {
	id, err := r.U32()
	if err != nil {
		return err
	}
	m.LeaseID = LeaseID(id)
	s, err := r.U8()
	if err != nil {
		return err
	}
	m.Status = Status(s)
	if !m.Status.IsValid() {
		return wire.InvalidEnumError("status", uint64(s))
	}
	if m.Status != StatusSuccess {
		return nil
	}
	m.Data = &SessionData{}
	return m.Data.read(r)
}

func (m *EstablishSessionResponse) WriteBody(w *wire.Writer) error {
	if !m.Status.IsValid() {
		return wire.InvalidEnumError("status", uint64(m.Status))
	}
	if (m.Status == StatusSuccess) != (m.Data != nil) {
		return fmt.Errorf("%w: session data must accompany exactly the Success status", wire.ErrCodec)
	}
	w.U32(uint32(m.LeaseID))
	w.U8(uint8(m.Status))
	if m.Data != nil {
		m.Data.write(w)
	}
	return nil
}

// EstablishSessionNotification tells a lease holder that a session was
// established with it.
type EstablishSessionNotification struct {
	Data SessionData
}

func (*EstablishSessionNotification) MessageID() uint8 { return IDEstablishSessionNotification }

func (m *EstablishSessionNotification) ReadBody(r *wire.Reader) error {
	return m.Data.read(r)
}

func (m *EstablishSessionNotification) WriteBody(w *wire.Writer) error {
	m.Data.write(w)
	return nil
}

// SessionEnd ends the sender's current session.
type SessionEnd struct{}

func (*SessionEnd) MessageID() uint8             { return IDSessionEnd }
func (*SessionEnd) ReadBody(*wire.Reader) error  { return nil }
func (*SessionEnd) WriteBody(*wire.Writer) error { return nil }

// SessionEndNotification tells the remaining member that the session ended.
type SessionEndNotification struct{}

func (*SessionEndNotification) MessageID() uint8             { return IDSessionEndNotification }
func (*SessionEndNotification) ReadBody(*wire.Reader) error  { return nil }
func (*SessionEndNotification) WriteBody(*wire.Writer) error { return nil }

// SessionDataSend carries opaque session bytes to the broker for relay.
type SessionDataSend struct {
	Data []byte
}

func (*SessionDataSend) MessageID() uint8 { return IDSessionDataSend }

func (m *SessionDataSend) ReadBody(r *wire.Reader) (err error) {
	m.Data, err = r.Prefixed(3)
	return err
}

func (m *SessionDataSend) WriteBody(w *wire.Writer) error {
	return w.Prefixed(m.Data, 3)
}

// SessionDataReceive carries relayed session bytes to the other member.
type SessionDataReceive struct {
	Data []byte
}

func (*SessionDataReceive) MessageID() uint8 { return IDSessionDataReceive }

func (m *SessionDataReceive) ReadBody(r *wire.Reader) (err error) {
	m.Data, err = r.Prefixed(3)
	return err
}

func (m *SessionDataReceive) WriteBody(w *wire.Writer) error {
	return w.Prefixed(m.Data, 3)
}

// KeepAlive resets the connection's liveness timer.
type KeepAlive struct{}

func (*KeepAlive) MessageID() uint8             { return IDKeepAlive }
func (*KeepAlive) ReadBody(*wire.Reader) error  { return nil }
func (*KeepAlive) WriteBody(*wire.Writer) error { return nil }
