package svsc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/backkem/screenview/pkg/wire"
)

func roundTrip(t *testing.T, in wire.Message) wire.Message {
	t.Helper()
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode(%T) failed: %v", in, err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%x) failed: %v", data, err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	return out
}

func TestLeaseRequestWithCookie(t *testing.T) {
	var cookie Cookie
	copy(cookie[:], "cookiecookiecookiecookie")

	data, err := Encode(&LeaseRequest{Cookie: &cookie})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := append([]byte{IDLeaseRequest, 0x01}, "cookiecookiecookiecookie"...)
	if !bytes.Equal(data, want) {
		t.Fatalf("Encode = %x, want %x", data, want)
	}

	out := roundTrip(t, &LeaseRequest{Cookie: &cookie}).(*LeaseRequest)
	if out.Cookie == nil || *out.Cookie != cookie {
		t.Errorf("decoded cookie = %v, want %q", out.Cookie, cookie[:])
	}
}

func TestLeaseRequestWithoutCookie(t *testing.T) {
	data, err := Encode(&LeaseRequest{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := []byte{IDLeaseRequest, 0x00}; !bytes.Equal(data, want) {
		t.Fatalf("Encode = %x, want %x", data, want)
	}
	roundTrip(t, &LeaseRequest{})
}

func TestLeaseResponseAccepted(t *testing.T) {
	var cookie Cookie
	copy(cookie[:], "cookiecookiecookiecookie")
	in := &LeaseResponse{Data: &LeaseResponseData{
		ID:         LeaseID(binary.LittleEndian.Uint32([]byte("idid"))),
		Cookie:     cookie,
		Expiration: time.Unix(1700000000, 0).UTC(),
	}}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if data[1] != 0x01 {
		t.Errorf("accepted flag = %#x, want 0x01", data[1])
	}
	if !bytes.Equal(data[2:6], []byte("idid")) {
		t.Errorf("lease id bytes = %q, want %q", data[2:6], "idid")
	}
	if len(data) != 1+1+4+CookieLen+8 {
		t.Errorf("encoded length = %d", len(data))
	}

	out := roundTrip(t, in).(*LeaseResponse)
	if !out.Accepted() {
		t.Error("Accepted() = false")
	}
}

func TestLeaseExtensionResponse(t *testing.T) {
	exp := time.Unix(1800000000, 0).UTC()
	out := roundTrip(t, &LeaseExtensionResponse{NewExpiration: &exp}).(*LeaseExtensionResponse)
	if !out.Extended() {
		t.Error("Extended() = false")
	}
	if out := roundTrip(t, &LeaseExtensionResponse{}).(*LeaseExtensionResponse); out.Extended() {
		t.Error("Extended() = true for empty response")
	}
}

func TestEstablishSessionResponseFailureHasNoData(t *testing.T) {
	data, err := Encode(&EstablishSessionResponse{LeaseID: 42, Status: StatusIDNotFound})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := []byte{IDEstablishSessionResponse, 42, 0, 0, 0, 0x01}; !bytes.Equal(data, want) {
		t.Fatalf("Encode = %x, want %x", data, want)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp := out.(*EstablishSessionResponse)
	if resp.Data != nil {
		t.Error("failure response carries session data")
	}

	// Session data after a failure status is not part of the message.
	extra := append(data, make([]byte, 48)...)
	if _, err := Decode(extra); !errors.Is(err, wire.ErrTrailingBytes) {
		t.Errorf("Decode with data after failure status error = %v, want ErrTrailingBytes", err)
	}
}

func TestEstablishSessionResponseSuccess(t *testing.T) {
	in := &EstablishSessionResponse{
		LeaseID: 7,
		Status:  StatusSuccess,
		Data: &SessionData{
			SessionID: SessionID{1},
			PeerID:    PeerID{2},
			PeerKey:   PeerKey{3},
		},
	}
	roundTrip(t, in)

	data, _ := Encode(in)
	if _, err := Decode(data[:len(data)-1]); !errors.Is(err, wire.ErrTruncated) {
		t.Errorf("Decode truncated success error = %v, want ErrTruncated", err)
	}
}

func TestEstablishSessionResponseInvalid(t *testing.T) {
	if _, err := Decode([]byte{IDEstablishSessionResponse, 1, 0, 0, 0, 0x06}); !errors.Is(err, wire.ErrInvalidEnumValue) {
		t.Errorf("Decode unknown status error = %v, want ErrInvalidEnumValue", err)
	}
	if _, err := Encode(&EstablishSessionResponse{Status: StatusSuccess}); !errors.Is(err, wire.ErrCodec) {
		t.Errorf("Encode Success without data error = %v, want codec error", err)
	}
	if _, err := Encode(&EstablishSessionResponse{Status: StatusPeerBusy, Data: &SessionData{}}); !errors.Is(err, wire.ErrCodec) {
		t.Errorf("Encode PeerBusy with data error = %v, want codec error", err)
	}
}

func TestProtocolVersion(t *testing.T) {
	data, err := Encode(&ProtocolVersion{Version: Version})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != 1+VersionLen {
		t.Fatalf("encoded length = %d, want %d", len(data), 1+VersionLen)
	}
	roundTrip(t, &ProtocolVersion{Version: Version})

	if _, err := Encode(&ProtocolVersion{Version: "SVSC 1"}); !errors.Is(err, wire.ErrFixedSize) {
		t.Errorf("Encode short version error = %v, want ErrFixedSize", err)
	}
	if _, err := Decode([]byte{IDProtocolVersionResponse, 0x02}); !errors.Is(err, wire.ErrBadBool) {
		t.Errorf("Decode bad bool error = %v, want ErrBadBool", err)
	}
}

func TestSessionData(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 70000)
	data, err := Encode(&SessionDataSend{Data: payload})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := int(data[1]) | int(data[2])<<8 | int(data[3])<<16; got != len(payload) {
		t.Errorf("3-byte length prefix = %d, want %d", got, len(payload))
	}
	roundTrip(t, &SessionDataSend{Data: payload})
	roundTrip(t, &SessionDataReceive{Data: []byte("relayed")})
}

func TestEmptyMessages(t *testing.T) {
	for _, m := range []wire.Message{&SessionEnd{}, &SessionEndNotification{}, &KeepAlive{}} {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", m, err)
		}
		if len(data) != 1 {
			t.Errorf("Encode(%T) = %x, want identifier only", m, data)
		}
		roundTrip(t, m)
	}
}

func TestUnknownID(t *testing.T) {
	if _, err := Decode([]byte{14}); !errors.Is(err, wire.ErrUnknownMessageID) {
		t.Errorf("Decode(14) error = %v, want ErrUnknownMessageID", err)
	}
}
