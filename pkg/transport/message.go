package transport

import "net"

// ReceivedMessage is one frame or datagram read from the network. Data
// holds an encoded message: identifier followed by body. Higher layers
// decode it with the namespace of the protocol spoken on that transport.
type ReceivedMessage struct {
	// Data contains the raw message bytes.
	Data []byte
	// Conn is the stream the frame arrived on, or nil for datagrams.
	Conn *Conn
	// Addr identifies the source of the message.
	Addr net.Addr
}

// MessageHandler is called for each received message.
// Implementations should process messages quickly or dispatch to a goroutine
// to avoid blocking the transport's read loop.
type MessageHandler func(msg *ReceivedMessage)

// ConnHandler is called when a stream connection opens or closes.
type ConnHandler func(c *Conn)
