package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/profpipe/internal/observability"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/protocol/directory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrSessionClosed = errors.New("session: closed")

// Negotiator tracks one connection's negotiated byte order, stream
// metadata and accumulated counter ids, and builds the replies the host
// owes the device.
type Negotiator struct {
	mu         sync.RWMutex
	cfg        Config
	decoder    directory.Decoder
	state      State
	order      protocol.ByteOrder
	meta       protocol.StreamMetadata
	counterIDs []uint16
}

func NewNegotiator(cfg Config, decoder directory.Decoder) *Negotiator {
	return &Negotiator{cfg: cfg, decoder: decoder}
}

// AcceptStreamMetadata fixes the byte order and metadata for the life of
// the connection and returns the connection ack to send back.
func (n *Negotiator) AcceptStreamMetadata(order protocol.ByteOrder, meta protocol.StreamMetadata) (protocol.Packet, error) {
	if err := protocol.CheckVersion(meta, n.cfg.VersionConstraint); err != nil {
		return protocol.Packet{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return protocol.Packet{}, ErrSessionClosed
	}
	n.order = order
	n.meta = meta
	if n.state == StateAwaitingMetadata {
		n.state = StateAwaitingDirectory
	}
	return protocol.NewPacket(protocol.HeaderConnectionAck, nil), nil
}

// AcceptCounterDirectory decodes a counter directory packet, appends the
// device uids of every counter to the accumulated list and returns the
// counter selection to send back. p carries only the directory body.
func (n *Negotiator) AcceptCounterDirectory(ctx context.Context, p protocol.Packet) (protocol.Packet, error) {
	_, span := observability.Tracer().Start(ctx, "session.counter_selection")
	defer span.End()

	if n.decoder == nil {
		span.SetStatus(codes.Error, directory.ErrNoDecoder.Error())
		return protocol.Packet{}, directory.ErrNoDecoder
	}
	dir, err := n.decoder.Decode(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode counter directory")
		return protocol.Packet{}, fmt.Errorf("%w: counter directory: %v", protocol.ErrProtocol, err)
	}
	ids := directory.CanonicalIDs(n.decoder, dir)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return protocol.Packet{}, ErrSessionClosed
	}
	n.counterIDs = append(n.counterIDs, ids...)
	n.state = StateStreaming
	payload := protocol.EncodeCounterSelection(n.cfg.CapturePeriod, n.counterIDs, n.order)
	span.SetAttributes(
		attribute.Int("profpipe.categories", len(dir.Categories)),
		attribute.Int("profpipe.counters", len(n.counterIDs)),
	)
	return protocol.NewPacket(protocol.HeaderCounterSelection, payload), nil
}

// Close is terminal.
func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateClosed
}

func (n *Negotiator) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Negotiator) ByteOrder() protocol.ByteOrder {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.order
}

func (n *Negotiator) Metadata() protocol.StreamMetadata {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.meta
}

func (n *Negotiator) CapturePeriod() uint32 {
	return n.cfg.CapturePeriod
}

// CounterIDs returns a copy of the accumulated device counter uids.
func (n *Negotiator) CounterIDs() []uint16 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]uint16, len(n.counterIDs))
	copy(out, n.counterIDs)
	return out
}
