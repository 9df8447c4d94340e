package fileonly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/observability"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/protocol/directory"
	"github.com/danmuck/profpipe/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Variant labels buffer-driven connections in metrics and logs.
const Variant = "file_only"

var ErrClosed = fmt.Errorf("%w: fileonly: connection closed", protocol.ErrTransport)

// Options configures a Connection.
type Options struct {
	// CapturePeriod is sent in every counter selection, in microseconds.
	CapturePeriod uint32
	// DispatchTimeout bounds the dispatch worker's wait. Negative waits
	// indefinitely.
	DispatchTimeout time.Duration
	Decoder         directory.Decoder
	// VersionConstraint rejects stream metadata outside a semver range.
	VersionConstraint string
	// Quiet suppresses informational logs about replies.
	Quiet bool
}

func DefaultOptions() Options {
	cfg := session.DefaultConfig()
	return Options{
		CapturePeriod:   cfg.CapturePeriod,
		DispatchTimeout: cfg.DispatchTimeout,
	}
}

// Connection is a pipe endpoint fed from buffers. Replies the host owes
// the device queue up on the outgoing side; every written packet is also
// fanned out to local handlers on a background worker.
type Connection struct {
	id       string
	opts     Options
	neg      *session.Negotiator
	outgoing *dispatch.Queue
	disp     *dispatch.Dispatcher

	// writeMu serialises WritePacket so negotiation side effects happen in
	// write order.
	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Connection {
	cfg := session.DefaultConfig()
	cfg.CapturePeriod = opts.CapturePeriod
	cfg.DispatchTimeout = opts.DispatchTimeout
	cfg.VersionConstraint = opts.VersionConstraint

	observability.ConnectionOpened(Variant)
	return &Connection{
		id:       uuid.NewString(),
		opts:     opts,
		neg:      session.NewNegotiator(cfg, opts.Decoder),
		outgoing: dispatch.NewQueue(),
		disp:     dispatch.NewDispatcher(nil, dispatch.Config{Name: Variant, Timeout: opts.DispatchTimeout}),
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// IsOpen holds until Close; there is no transport that could drop.
func (c *Connection) IsOpen() bool {
	return !c.closed.Load()
}

func (c *Connection) ByteOrder() protocol.ByteOrder {
	return c.neg.ByteOrder()
}

func (c *Connection) Metadata() protocol.StreamMetadata {
	return c.neg.Metadata()
}

func (c *Connection) State() session.State {
	return c.neg.State()
}

// CounterIDs returns the device counter uids selected so far.
func (c *Connection) CounterIDs() []uint16 {
	return c.neg.CounterIDs()
}

// Pending counts replies not yet read.
func (c *Connection) Pending() int {
	return c.outgoing.Len()
}

// AddLocalPacketHandler registers h and makes sure the dispatch worker is
// running.
func (c *Connection) AddLocalPacketHandler(h dispatch.Handler) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if h == nil {
		return dispatch.ErrHandlerNil
	}
	h.SetConnection(c)
	if err := c.disp.Registry().Register(h); err != nil {
		return err
	}
	c.disp.Start()
	return nil
}

// WritePacket consumes one complete packet, header included. Stream
// metadata queues a connection ack, a counter directory queues a counter
// selection, and every packet is forwarded to local handlers.
func (c *Connection) WritePacket(buf []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(buf) < protocol.HeaderSize {
		return protocol.ErrTruncated
	}

	var (
		p   protocol.Packet
		err error
	)
	if protocol.ToUint32(buf[0:4], protocol.BigEndian) == protocol.HeaderStreamMetadata {
		p, err = c.acceptStreamMetadata(buf)
	} else {
		p, err = protocol.DecodePacket(buf, c.neg.ByteOrder())
		if err == nil && session.Classify(p.Header) == session.ActivityCounterDirectory {
			err = c.acceptCounterDirectory(p)
		}
	}
	if err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			log.Warn().Str("conn", c.id).Err(err).Msg("fileonly.connection protocol error")
			_ = c.Close()
		}
		return err
	}

	observability.RecordPacketReceived(Variant, p.Family(), len(p.Payload))
	c.disp.Enqueue(p)
	return nil
}

func (c *Connection) acceptStreamMetadata(buf []byte) (p protocol.Packet, err error) {
	defer func() { observability.RecordHandshake(Variant, err) }()

	if len(buf) < protocol.HeaderSize+4 {
		return protocol.Packet{}, protocol.ErrBadPipeMagic
	}
	order, err := protocol.ResolveByteOrder(buf[8:12])
	if err != nil {
		return protocol.Packet{}, err
	}
	p, err = protocol.DecodePacket(buf, order)
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("%w: %v", protocol.ErrLengthMismatch, err)
	}
	if p.Length < 4 {
		return protocol.Packet{}, fmt.Errorf("%w: declared %d bytes", protocol.ErrLengthMismatch, p.Length)
	}
	meta, err := protocol.ParseStreamMetadata(p.Payload[4:], order)
	if err != nil {
		return protocol.Packet{}, err
	}
	ack, err := c.neg.AcceptStreamMetadata(order, meta)
	if err != nil {
		return protocol.Packet{}, err
	}
	if !c.opts.Quiet {
		log.Info().Str("conn", c.id).Str("order", order.String()).Msg("fileonly.connection sending connection ack")
	}
	c.reply(ack)
	return p, nil
}

func (c *Connection) acceptCounterDirectory(p protocol.Packet) error {
	sel, err := c.neg.AcceptCounterDirectory(context.Background(), p.Clone())
	if errors.Is(err, directory.ErrNoDecoder) {
		log.Warn().Str("conn", c.id).Msg("fileonly.connection no decoder; counter selection skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if !c.opts.Quiet {
		log.Info().Str("conn", c.id).Int("counters", len(c.neg.CounterIDs())).Msg("fileonly.connection sending counter selection")
	}
	c.reply(sel)
	return nil
}

func (c *Connection) reply(p protocol.Packet) {
	c.outgoing.Push(p)
	observability.RecordPacketSent(Variant, p.Family())
}

// ReadPacket pops the oldest queued reply, waiting at most timeout. A
// negative timeout waits indefinitely. Nothing arriving in time yields a
// retryable ErrTimeout.
func (c *Connection) ReadPacket(timeout time.Duration) (protocol.Packet, error) {
	p, err := c.outgoing.Pop(timeout, c.done)
	switch {
	case errors.Is(err, dispatch.ErrQueueEmpty):
		return protocol.Packet{}, protocol.Timeoutf("no reply within %s", timeout)
	case errors.Is(err, dispatch.ErrQueueStopped):
		return protocol.Packet{}, ErrClosed
	}
	return p, err
}

// Close discards queued replies and undispatched packets and stops the
// worker. Safe to call more than once. Must not be called from a handler.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		observability.ConnectionClosed(Variant)
	})
	if n := c.outgoing.Drain(); n > 0 {
		observability.RecordDropped(Variant, "closed", n)
	}
	c.disp.Stop()
	c.neg.Close()
	return nil
}
