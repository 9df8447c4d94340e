package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrUnexpectedReply = fmt.Errorf("%w: pipe: unexpected reply", protocol.ErrProtocol)

// DialConfig configures the device side of a pipe.
type DialConfig struct {
	Session session.Config
	// Order is the byte order the client writes. Unknown means big-endian.
	Order protocol.ByteOrder
	// MaxAttempts bounds connection attempts. Zero retries until ctx ends.
	MaxAttempts int
}

func DefaultDialConfig() DialConfig {
	return DialConfig{Session: session.DefaultConfig(), Order: protocol.BigEndian}
}

// Client plays the device: it opens the pipe, sends stream metadata and
// streams packets to a host.
type Client struct {
	conn    net.Conn
	rd      *bufio.Reader
	order   protocol.ByteOrder
	cfg     DialConfig
	writeMu sync.Mutex
}

// Dial connects to a pipe host, retrying with backoff.
func Dial(ctx context.Context, network, addr string, cfg DialConfig) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Order == protocol.OrderUnknown {
		cfg.Order = protocol.BigEndian
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.Session.HandshakeTimeout}

	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			return &Client{conn: conn, rd: bufio.NewReader(conn), order: cfg.Order, cfg: cfg}, nil
		}
		log.Warn().Int("attempt", attempt).Str("addr", addr).Err(err).Msg("pipe.client dial")
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, protocol.Transportf("dial %s: %v", addr, err)
		}
		if err := cfg.Session.Backoff.Sleep(ctx, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func (c *Client) ByteOrder() protocol.ByteOrder {
	return c.order
}

// Handshake sends meta and waits for the connection ack.
func (c *Client) Handshake(ctx context.Context, meta protocol.StreamMetadata) error {
	if err := c.write(protocol.EncodeStreamMetadata(meta, c.order, nil)); err != nil {
		return err
	}
	timeout := c.cfg.Session.HandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	p, err := c.ReadPacket(timeout)
	if err != nil {
		return err
	}
	if p.Header != protocol.HeaderConnectionAck {
		return fmt.Errorf("%w: header %#x", ErrUnexpectedReply, p.Header)
	}
	return nil
}

// SendPacket frames payload under family/id in the client's order.
func (c *Client) SendPacket(family, id uint32, payload []byte) error {
	return c.write(protocol.EncodePacket(family, id, payload, c.order))
}

// ReadPacket reads one host reply. A non-positive timeout waits
// indefinitely.
func (c *Client) ReadPacket(timeout time.Duration) (protocol.Packet, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	p, err := protocol.ReadPacket(c.rd, c.order)
	var ne net.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		return protocol.Packet{}, protocol.Timeoutf("no reply within %s", timeout)
	}
	return p, err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return protocol.Transportf("write: %v", err)
	}
	return nil
}
