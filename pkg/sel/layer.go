package sel

import (
	"fmt"

	selproto "github.com/backkem/screenview/pkg/protocol/sel"
)

// Layer frames reliable upper-layer bytes for one topology.
type Layer interface {
	// Seal wraps payload for the wire.
	Seal(payload []byte) ([]byte, error)
	// Open unwraps one received frame.
	Open(frame []byte) ([]byte, error)
}

var (
	_ Layer = Direct{}
	_ Layer = (*Handler)(nil)
)

// Direct is the Layer of a direct peer-to-peer connection: there is no
// server in between, so bytes pass through untouched.
type Direct struct{}

// Seal returns payload.
func (Direct) Seal(payload []byte) ([]byte, error) {
	return payload, nil
}

// Open returns frame.
func (Direct) Open(frame []byte) ([]byte, error) {
	return frame, nil
}

// Seal encodes payload as a reliable SEL transport message.
func (h *Handler) Seal(payload []byte) ([]byte, error) {
	if st := h.State(); st != StateData {
		return nil, fmt.Errorf("%w: seal in state %s", ErrWrongMessageForState, st)
	}
	return selproto.Encode(WrapReliable(payload))
}

// Open decodes a frame from the server and returns its payload.
func (h *Handler) Open(frame []byte) ([]byte, error) {
	msg, err := selproto.Decode(frame)
	if err != nil {
		return nil, err
	}
	return h.Handle(msg)
}
