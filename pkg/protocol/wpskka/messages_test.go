package wpskka

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/backkem/screenview/pkg/wire"
)

func TestTransportDataMessageUnreliableLayout(t *testing.T) {
	in := &TransportDataMessageUnreliable{
		Counter: binary.LittleEndian.Uint64([]byte("COUNTERC")),
		Data:    []byte("YELLOW SUBMARINE"),
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{IDTransportDataMessageUnreliable}
	want = append(want, "COUNTERC"...)
	want = append(want, 16, 0)
	want = append(want, "YELLOW SUBMARINE"...)
	if !bytes.Equal(data, want) {
		t.Fatalf("Encode = %x, want %x", data, want)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(wire.Message(in), out); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthSchemeList(t *testing.T) {
	in := &AuthScheme{Schemes: []AuthSchemeType{AuthSchemeSrpDynamic, AuthSchemeSrpStatic}}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := []byte{IDAuthScheme, 2, 1, 2}; !bytes.Equal(data, want) {
		t.Fatalf("Encode = %x, want %x", data, want)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(wire.Message(in), out); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}

	if _, err := Decode([]byte{IDAuthScheme, 1, 9}); !errors.Is(err, wire.ErrInvalidEnumValue) {
		t.Errorf("Decode unknown scheme error = %v, want ErrInvalidEnumValue", err)
	}
	if _, err := Decode([]byte{IDAuthScheme, 3, 1}); !errors.Is(err, wire.ErrTruncated) {
		t.Errorf("Decode short scheme list error = %v, want ErrTruncated", err)
	}
}

func TestTryAuthInvalidScheme(t *testing.T) {
	if _, err := Encode(&TryAuth{AuthScheme: 4}); !errors.Is(err, wire.ErrInvalidEnumValue) {
		t.Errorf("Encode invalid scheme error = %v, want ErrInvalidEnumValue", err)
	}
	if _, err := Decode([]byte{IDTryAuth, 4}); !errors.Is(err, wire.ErrInvalidEnumValue) {
		t.Errorf("Decode invalid scheme error = %v, want ErrInvalidEnumValue", err)
	}
}

func TestAuthResultBadBool(t *testing.T) {
	if _, err := Decode([]byte{IDAuthResult, 0x02}); !errors.Is(err, wire.ErrBadBool) {
		t.Errorf("Decode error = %v, want ErrBadBool", err)
	}
}

func TestReliableDataTooLong(t *testing.T) {
	_, err := Encode(&TransportDataMessageReliable{Data: make([]byte, 0x10000)})
	if !errors.Is(err, wire.ErrFieldTooLong) {
		t.Errorf("Encode 64KiB payload error = %v, want ErrFieldTooLong", err)
	}
}
