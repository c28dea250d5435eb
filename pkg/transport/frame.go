package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout on a stream: the message identifier, the body length as a
// little-endian uint16 and the body.
const (
	FrameHeaderSize = 3
	MaxFrameBody    = 0xFFFF
)

// StreamWriter frames encoded messages onto a stream.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteFrame writes one encoded message as a frame.
//
// Parameters:
//   - msg: Encoded message, the identifier byte followed by the body. The
//     body may be at most MaxFrameBody bytes.
//
// The length prefix is inserted after the identifier and the frame is
// written with a single Write call. Conn serializes concurrent senders.
func (sw *StreamWriter) WriteFrame(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyFrame
	}
	body := msg[1:]
	if len(body) > MaxFrameBody {
		return ErrMessageTooLarge
	}

	buf := make([]byte, FrameHeaderSize+len(body))
	buf[0] = msg[0]
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(body)))
	copy(buf[FrameHeaderSize:], body)

	_, err := sw.w.Write(buf)
	return err
}

// StreamReader reads frames written by a StreamWriter.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a new stream reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// ReadFrame reads one frame and returns the encoded message (identifier
// followed by body). It returns io.EOF when the stream ends cleanly
// between frames.
func (sr *StreamReader) ReadFrame() ([]byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrStreamReadFailed, err)
	}

	n := int(binary.LittleEndian.Uint16(hdr[1:3]))
	msg := make([]byte, 1+n)
	msg[0] = hdr[0]
	if _, err := io.ReadFull(sr.r, msg[1:]); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrStreamReadFailed, err)
	}
	return msg, nil
}
