package capture

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/profpipe/internal/fileonly"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

func TestAppendAndList(t *testing.T) {
	testlog.Start(t)
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	in := protocol.NewPacket(protocol.HeaderTimelineMessage, []byte{1, 2, 3})
	out := protocol.NewPacket(protocol.HeaderConnectionAck, nil)
	if err := s.Append(ctx, "a", Inbound, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "b", Inbound, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "a", Outbound, out); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.List(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d want 2", len(recs))
	}
	if recs[0].Direction != Inbound || recs[0].Packet.Header != in.Header || !bytes.Equal(recs[0].Packet.Payload, in.Payload) || recs[0].Packet.Length != 3 {
		t.Fatalf("first record %+v", recs[0])
	}
	if recs[1].Direction != Outbound || recs[1].Packet.Header != protocol.HeaderConnectionAck || recs[1].Packet.Length != 0 {
		t.Fatalf("second record %+v", recs[1])
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "a" || sessions[1] != "b" {
		t.Fatalf("sessions=%v", sessions)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nested", "capture.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(context.Background(), "x", Inbound, protocol.NewPacket(1, []byte{9})); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	recs, err := s.List(context.Background(), "x")
	if err != nil || len(recs) != 1 {
		t.Fatalf("records=%v err=%v", recs, err)
	}
}

func TestHandlerCapturesDispatchedPackets(t *testing.T) {
	testlog.Start(t)
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	conn := fileonly.New(fileonly.Options{DispatchTimeout: -1, Quiet: true})
	defer conn.Close()
	if err := conn.AddLocalPacketHandler(NewHandler(s, "")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := conn.WritePacket(protocol.EncodeStreamMetadata(protocol.StreamMetadata{}, protocol.BigEndian, nil)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WritePacket(protocol.EncodePacket(1, 1, []byte("abc"), protocol.BigEndian)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := s.List(context.Background(), conn.ID())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) == 2 {
			if recs[0].Packet.Header != protocol.HeaderStreamMetadata || recs[1].Packet.Header != protocol.HeaderTimelineMessage {
				t.Fatalf("captured %+v", recs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("captured %d packets, want 2", len(recs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
