package fileonly

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

func TestReplayStream(t *testing.T) {
	testlog.Start(t)
	order := protocol.LittleEndian
	var stream bytes.Buffer
	stream.Write(protocol.EncodeStreamMetadata(protocol.StreamMetadata{Version: 1}, order, []byte{0xee, 0xee}))
	stream.Write(protocol.EncodePacket(0, 2, []byte{1, 2, 3}, order))
	stream.Write(protocol.EncodePacket(1, 1, []byte{4}, order))

	c := newConn(t, Options{Decoder: testDecoder()})
	h := &collector{}
	if err := c.AddLocalPacketHandler(h); err != nil {
		t.Fatalf("add: %v", err)
	}
	var replies []uint32
	n, err := Replay(context.Background(), &stream, c, func(p protocol.Packet) {
		replies = append(replies, p.Header)
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 3 {
		t.Fatalf("replayed %d packets want 3", n)
	}
	if len(replies) != 2 || replies[0] != protocol.HeaderConnectionAck || replies[1] != protocol.HeaderCounterSelection {
		t.Fatalf("replies=%#x", replies)
	}
	waitForCount(t, h, 3)
}

func TestReplayTruncatedStream(t *testing.T) {
	testlog.Start(t)
	raw := protocol.EncodeStreamMetadata(protocol.StreamMetadata{}, protocol.BigEndian, nil)
	raw = append(raw, protocol.EncodePacket(1, 1, []byte{1, 2, 3, 4}, protocol.BigEndian)[:10]...)

	c := newConn(t, Options{})
	n, err := Replay(context.Background(), bytes.NewReader(raw), c, nil)
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed %d packets want 1", n)
	}
}

func TestReplayRejectsPayloadAboveNegotiatedMax(t *testing.T) {
	testlog.Start(t)
	order := protocol.BigEndian
	raw := protocol.EncodeStreamMetadata(protocol.StreamMetadata{Version: 1, MaxDataLen: 16}, order, nil)
	hdr := protocol.EncodeHeader(protocol.HeaderTimelineMessage, 1<<30, order)
	raw = append(raw, hdr[:]...)

	c := newConn(t, Options{})
	n, err := Replay(context.Background(), bytes.NewReader(raw), c, nil)
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed %d packets want 1", n)
	}
}

func TestReadFrameRejectsOversizedMetadata(t *testing.T) {
	testlog.Start(t)
	hdr := protocol.EncodeHeader(protocol.HeaderStreamMetadata, 1<<20, protocol.BigEndian)
	var magic [4]byte
	protocol.PutUint32(protocol.PipeMagic, magic[:], protocol.BigEndian)

	_, _, err := ReadFrame(bytes.NewReader(append(hdr[:], magic[:]...)), protocol.OrderUnknown, protocol.DefaultLimits())
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
