package fileonly

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/danmuck/profpipe/internal/protocol"
)

// ReadFrame reads one complete packet, header included, from a raw
// device stream. Stream metadata carries its own byte order in the pipe
// magic; every other packet is framed with order.
func ReadFrame(r io.Reader, order protocol.ByteOrder, limits protocol.Limits) ([]byte, protocol.ByteOrder, error) {
	hdr := make([]byte, protocol.HeaderSize, protocol.HeaderSize+4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, order, io.EOF
		}
		return nil, order, protocol.ErrTruncated
	}
	metadata := protocol.ToUint32(hdr[0:4], protocol.BigEndian) == protocol.HeaderStreamMetadata
	if metadata {
		magic := make([]byte, 4)
		if _, err := io.ReadFull(r, magic); err != nil {
			return nil, order, protocol.ErrTruncated
		}
		resolved, err := protocol.ResolveByteOrder(magic)
		if err != nil {
			return nil, order, err
		}
		order = resolved
		hdr = append(hdr, magic...)
	}
	length := protocol.ToUint32(hdr[4:8], order)
	consumed := uint32(len(hdr) - protocol.HeaderSize)
	if length < consumed {
		return nil, order, protocol.ErrLengthMismatch
	}
	check := limits.CheckPayload
	if metadata {
		check = limits.CheckMetadata
	}
	if err := check(length); err != nil {
		return nil, order, err
	}
	buf := make([]byte, protocol.HeaderSize+int(length))
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[len(hdr):]); err != nil {
		return nil, order, protocol.ErrTruncated
	}
	return buf, order, nil
}

// Replay feeds every packet in r to c and hands each queued reply to
// onReply. It returns the number of packets written.
func Replay(ctx context.Context, r io.Reader, c *Connection, onReply func(protocol.Packet)) (int, error) {
	br := bufio.NewReader(r)
	order := protocol.OrderUnknown
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		limits := protocol.DefaultLimits().Negotiated(c.Metadata())
		buf, next, err := ReadFrame(br, order, limits)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		order = next
		if err := c.WritePacket(buf); err != nil {
			return n, err
		}
		n++
		for c.Pending() > 0 {
			p, err := c.ReadPacket(0)
			if err != nil {
				break
			}
			if onReply != nil {
				onReply(p)
			}
		}
	}
}
