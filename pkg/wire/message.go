// Package wire implements the binary message codec shared by every
// ScreenView protocol layer.
//
// A message is a one-byte identifier followed by its fields in
// declaration order. Integers are little-endian. Field kinds are fixed
// arrays, length-prefixed blobs (1, 2 or 3 byte prefixes), a greedy
// trailing blob and optional values gated by a preceding boolean.
//
// Each protocol layer owns a Namespace mapping identifiers to message
// constructors. Decoding dispatches on the identifier alone; an
// unregistered identifier is an error.
package wire

import (
	"fmt"
	"sort"
)

// Message is a typed record of one protocol namespace.
type Message interface {
	// MessageID returns the identifier written before the body.
	MessageID() uint8

	// ReadBody decodes the fields following the identifier.
	ReadBody(r *Reader) error

	// WriteBody encodes the fields following the identifier.
	WriteBody(w *Writer) error
}

// Encode serializes m with its identifier.
func Encode(m Message) ([]byte, error) {
	w := NewWriter()
	w.U8(m.MessageID())
	if err := m.WriteBody(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Namespace maps message identifiers of one protocol layer to constructors.
// A Namespace is populated at package init and read-only afterwards.
type Namespace struct {
	name  string
	ctors map[uint8]func() Message
}

// NewNamespace creates an empty namespace.
func NewNamespace(name string) *Namespace {
	return &Namespace{
		name:  name,
		ctors: make(map[uint8]func() Message),
	}
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Register adds a constructor. Registering an identifier twice, or a
// constructor whose message reports a different identifier, panics.
func (n *Namespace) Register(id uint8, ctor func() Message) {
	if _, ok := n.ctors[id]; ok {
		panic(fmt.Sprintf("wire: %s: duplicate message id %d", n.name, id))
	}
	if got := ctor().MessageID(); got != id {
		panic(fmt.Sprintf("wire: %s: constructor for id %d reports id %d", n.name, id, got))
	}
	n.ctors[id] = ctor
}

// IDs returns the registered identifiers in ascending order.
func (n *Namespace) IDs() []uint8 {
	ids := make([]uint8, 0, len(n.ctors))
	for id := range n.ctors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// New returns a zero message for id.
func (n *Namespace) New(id uint8) (Message, error) {
	ctor, ok := n.ctors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s id %d", ErrUnknownMessageID, n.name, id)
	}
	return ctor(), nil
}

// Decode parses one complete message. The whole input must be consumed.
func (n *Namespace) Decode(b []byte) (Message, error) {
	r := NewReader(b)
	id, err := r.U8()
	if err != nil {
		return nil, err
	}
	m, err := n.New(id)
	if err != nil {
		return nil, err
	}
	if err := m.ReadBody(r); err != nil {
		return nil, fmt.Errorf("%s id %d: %w", n.name, id, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %s id %d has %d extra bytes", ErrTrailingBytes, n.name, id, r.Len())
	}
	return m, nil
}
