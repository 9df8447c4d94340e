package dispatch

import "github.com/danmuck/profpipe/internal/protocol"

// Connection is the view of a pipe connection a handler is given on
// registration.
type Connection interface {
	ID() string
	IsOpen() bool
	Close() error
}

// Handler consumes dispatched packets. An empty HeadersAccepted makes the
// handler universal: it sees every packet. Otherwise it only sees packets
// whose header code is in the returned set.
type Handler interface {
	HeadersAccepted() []uint32
	HandlePacket(protocol.Packet)
	SetConnection(Connection)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Headers []uint32
	Fn      func(protocol.Packet)
}

func (h HandlerFunc) HeadersAccepted() []uint32 {
	return h.Headers
}

func (h HandlerFunc) HandlePacket(p protocol.Packet) {
	if h.Fn != nil {
		h.Fn(p)
	}
}

func (HandlerFunc) SetConnection(Connection) {}
