package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/protocol"
)

var ErrWaitTimeout = errors.New("handlers: timed out waiting for packets")

// TimelineHeaders are the headers a Recorder accepts by default.
var TimelineHeaders = []uint32{protocol.HeaderTimelineDirectory, protocol.HeaderTimelineMessage}

// Recorder keeps every packet it is handed so callers can wait for a
// given number of them.
type Recorder struct {
	headers []uint32

	mu      sync.Mutex
	packets []protocol.Packet
	conn    dispatch.Connection
	changed chan struct{}
}

// NewRecorder indexes the recorder on headers, or on TimelineHeaders when
// none are given.
func NewRecorder(headers ...uint32) *Recorder {
	if len(headers) == 0 {
		headers = TimelineHeaders
	}
	return &Recorder{
		headers: append([]uint32(nil), headers...),
		changed: make(chan struct{}),
	}
}

func (r *Recorder) HeadersAccepted() []uint32 {
	return r.headers
}

func (r *Recorder) HandlePacket(p protocol.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *Recorder) SetConnection(c dispatch.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = c
}

// Connection is the connection the recorder was registered on.
func (r *Recorder) Connection() dispatch.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Packets returns what was recorded so far.
func (r *Recorder) Packets() []protocol.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Packet(nil), r.packets...)
}

// WaitForCount blocks until at least n packets were recorded or timeout
// passes.
func (r *Recorder) WaitForCount(n int, timeout time.Duration) ([]protocol.Packet, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		if len(r.packets) >= n {
			out := append([]protocol.Packet(nil), r.packets...)
			r.mu.Unlock()
			return out, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return r.Packets(), ErrWaitTimeout
		}
	}
}
