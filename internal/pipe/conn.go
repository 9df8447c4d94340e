package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/profpipe/internal/observability"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Variant labels socket connections in metrics and logs.
const Variant = "socket"

var ErrConnClosed = fmt.Errorf("%w: pipe: connection closed", protocol.ErrTransport)

// Option configures a Conn.
type Option func(*Conn)

// WithEcho renders every byte block read or written to w.
func WithEcho(w io.Writer) Option {
	return func(c *Conn) { c.echo = w }
}

// WithID overrides the generated connection id.
func WithID(id string) Option {
	return func(c *Conn) { c.id = id }
}

// WithWriteTimeout bounds every transport write. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithLimits sets the caps applied to declared lengths before the
// handshake. The payload cap is replaced by the device's advertised
// maximum once metadata arrives.
func WithLimits(l protocol.Limits) Option {
	return func(c *Conn) { c.limits = l }
}

// Conn is the host end of one pipe over a byte-stream transport.
type Conn struct {
	id           string
	conn         net.Conn
	rd           *bufio.Reader
	poller       *fdPoller
	echo         io.Writer
	writeTimeout time.Duration

	readMu  sync.Mutex
	writeMu sync.Mutex

	stateMu sync.RWMutex
	order   protocol.ByteOrder
	meta    protocol.StreamMetadata
	limits  protocol.Limits

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn takes ownership of c.
func NewConn(c net.Conn, opts ...Option) *Conn {
	pc := &Conn{
		id:     uuid.NewString(),
		conn:   c,
		rd:     bufio.NewReader(c),
		poller: newFDPoller(c),
		limits: protocol.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(pc)
	}
	observability.ConnectionOpened(Variant)
	return pc
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// ByteOrder is OrderUnknown until the handshake completes.
func (c *Conn) ByteOrder() protocol.ByteOrder {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.order
}

func (c *Conn) Metadata() protocol.StreamMetadata {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.meta
}

// Close releases the transport and ends any wait in progress. Repeated
// calls are no-ops.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.poller != nil {
			c.poller.interrupt()
		}
		if err := c.conn.Close(); err != nil {
			log.Debug().Str("conn", c.id).Err(err).Msg("pipe.conn close")
		}
		if c.poller != nil {
			c.poller.release()
		}
		observability.ConnectionClosed(Variant)
	})
	return nil
}

// ReadExact fills buf from the transport or fails. No partial result is
// ever handed back.
func (c *Conn) ReadExact(buf []byte) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return readExact(c.rd, buf)
}

func readExact(r io.Reader, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := r.Read(buf[off:])
		off += n
		if off == len(buf) {
			return nil
		}
		switch {
		case err == nil && n == 0:
			return protocol.ErrRemoteClosed
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrNoProgress):
			return protocol.ErrRemoteClosed
		case err != nil:
			return protocol.Transportf("read %d/%d bytes: %v", off, len(buf), err)
		}
	}
	return nil
}

// WaitForStreamMetadata performs the handshake: it reads the zero
// identifier, resolves the byte order from the pipe magic and records the
// stream metadata. ctx bounds the whole exchange.
func (c *Conn) WaitForStreamMetadata(ctx context.Context) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "pipe.handshake")
	defer func() {
		observability.RecordHandshake(Variant, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handshake failed")
			if errors.Is(err, protocol.ErrProtocol) {
				_ = c.Close()
			}
		}
		span.End()
	}()

	if c.closed.Load() {
		return ErrConnClosed
	}
	if ctx.Err() != nil {
		return protocol.Timeoutf("handshake: %v", ctx.Err())
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	if c.echo != nil {
		fmt.Fprintln(c.echo, "Waiting for stream meta data...")
	}
	var hdr [protocol.HeaderSize]byte
	if err := readExact(c.rd, hdr[:]); err != nil {
		return err
	}
	writeEcho(c.echo, DirReceivedHeader, hdr[:])
	if protocol.ToUint32(hdr[0:4], protocol.BigEndian) != 0 {
		return protocol.ErrNonZeroIdentifier
	}

	var magic [4]byte
	if err := readExact(c.rd, magic[:]); err != nil {
		return err
	}
	order, err := protocol.ResolveByteOrder(magic[:])
	if err != nil {
		return err
	}

	length := protocol.ToUint32(hdr[4:8], order)
	if length < uint32(len(magic)) {
		return fmt.Errorf("%w: declared %d bytes", protocol.ErrLengthMismatch, length)
	}
	if err := c.currentLimits().CheckMetadata(length); err != nil {
		return err
	}
	body := make([]byte, length-uint32(len(magic)))
	if err := readExact(c.rd, body); err != nil {
		return fmt.Errorf("%w: want %d metadata bytes: %v", protocol.ErrLengthMismatch, len(body), err)
	}
	writeEcho(c.echo, DirReceivedData, append(magic[:], body...))

	meta, err := protocol.ParseStreamMetadata(body, order)
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	c.order = order
	c.meta = meta
	c.limits = c.limits.Negotiated(meta)
	c.stateMu.Unlock()

	span.SetAttributes(
		attribute.String("profpipe.byte_order", order.String()),
		attribute.String("profpipe.version", meta.Semver().String()),
		attribute.Int64("profpipe.pid", int64(meta.PID)),
	)
	log.Debug().
		Str("conn", c.id).
		Str("order", order.String()).
		Uint32("version", meta.Version).
		Uint32("max_data_len", meta.MaxDataLen).
		Uint32("pid", meta.PID).
		Msg("pipe.conn stream metadata")
	return nil
}

// WaitForPacket returns the next packet, waiting at most timeout for data
// to arrive. A negative timeout waits indefinitely. Running out of time and
// waking with nothing to read both yield a retryable ErrTimeout; anything
// else that fails is fatal to the connection.
func (c *Conn) WaitForPacket(timeout time.Duration) (protocol.Packet, error) {
	if c.closed.Load() {
		return protocol.Packet{}, ErrConnClosed
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.available() > protocol.HeaderSize {
		return c.receiveLocked()
	}

	var (
		ready readiness
		err   error
	)
	if c.poller != nil && c.rd.Buffered() == 0 {
		ready, err = c.poller.wait(timeout)
	} else {
		ready, err = peekReadiness(c.conn, c.rd, timeout)
	}
	if c.closed.Load() {
		return protocol.Packet{}, ErrConnClosed
	}
	switch ready {
	case readyTimeout:
		return protocol.Packet{}, protocol.Timeoutf("no packet within %s", timeout)
	case readySpurious:
		return protocol.Packet{}, protocol.Timeoutf("woke with nothing to read")
	case readyHangup:
		return protocol.Packet{}, protocol.ErrRemoteClosed
	case readyInvalid:
		return protocol.Packet{}, protocol.Transportf("invalid connection: %v", err)
	case readyError:
		return protocol.Packet{}, protocol.Transportf("poll: %v", err)
	}
	return c.receiveLocked()
}

func (c *Conn) available() int {
	n := c.rd.Buffered()
	if c.poller != nil {
		n += c.poller.pending()
	}
	return n
}

// ReceivePacket reads one framed packet. On failure it returns the empty
// sentinel packet together with the cause.
func (c *Conn) ReceivePacket() (protocol.Packet, error) {
	if c.closed.Load() {
		return protocol.Packet{}, ErrConnClosed
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.receiveLocked()
}

func (c *Conn) currentLimits() protocol.Limits {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.limits
}

func (c *Conn) receiveLocked() (protocol.Packet, error) {
	order := c.ByteOrder()
	var hdr [protocol.HeaderSize]byte
	if err := readExact(c.rd, hdr[:]); err != nil {
		return protocol.Packet{}, err
	}
	writeEcho(c.echo, DirReceivedHeader, hdr[:])
	header, length := protocol.DecodeHeader(hdr[:], order)
	if err := c.currentLimits().CheckPayload(length); err != nil {
		// The rest of the stream cannot be framed once a length is refused.
		_ = c.Close()
		return protocol.Packet{}, err
	}

	payload := make([]byte, length)
	if err := readExact(c.rd, payload); err != nil {
		return protocol.Packet{}, err
	}
	if length > 0 {
		writeEcho(c.echo, DirReceivedData, payload)
	}
	p := protocol.Packet{Header: header, Length: length, Payload: payload}
	if c.echo != nil {
		fmt.Fprintf(c.echo, "Processing packet ID= %d Length=%d\n", p.ID(), p.Length)
	}
	observability.RecordPacketReceived(Variant, p.Family(), len(payload))
	return p, nil
}

// SendPacket frames data under family/id in the negotiated order and
// writes it in a single transport write.
func (c *Conn) SendPacket(family, id uint32, data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	buf := protocol.EncodePacket(family, id, data, c.ByteOrder())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	writeEcho(c.echo, DirSending, buf)
	n, err := c.conn.Write(buf)
	if err != nil {
		return protocol.Transportf("write packet: %v", err)
	}
	if n != len(buf) {
		return protocol.Transportf("short write %d/%d", n, len(buf))
	}
	observability.RecordPacketSent(Variant, family)
	return nil
}

// Send writes an already built packet.
func (c *Conn) Send(p protocol.Packet) error {
	return c.SendPacket(p.Family(), p.ID(), p.Payload)
}

// SendConnectionAck tells the device its stream metadata was accepted.
func (c *Conn) SendConnectionAck() error {
	return c.Send(protocol.NewPacket(protocol.HeaderConnectionAck, nil))
}
