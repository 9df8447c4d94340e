package handlers

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/profpipe/internal/fileonly"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestRecorderWaitsForTimelinePackets(t *testing.T) {
	testlog.Start(t)
	conn := fileonly.New(fileonly.Options{DispatchTimeout: -1, Quiet: true})
	defer conn.Close()
	rec := NewRecorder()
	if err := conn.AddLocalPacketHandler(rec); err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.Connection() == nil {
		t.Fatalf("recorder not bound")
	}

	for _, b := range [][]byte{
		protocol.EncodeStreamMetadata(protocol.StreamMetadata{}, protocol.BigEndian, nil),
		protocol.EncodePacket(1, 0, []byte{1}, protocol.BigEndian),
		protocol.EncodePacket(2, 0, []byte{2}, protocol.BigEndian),
		protocol.EncodePacket(1, 1, []byte{3}, protocol.BigEndian),
	} {
		if err := conn.WritePacket(b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := rec.WaitForCount(2, 2*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(got) != 2 || got[0].Header != protocol.HeaderTimelineDirectory || got[1].Header != protocol.HeaderTimelineMessage {
		t.Fatalf("recorded %v", got)
	}
}

func TestRecorderWaitTimesOut(t *testing.T) {
	testlog.Start(t)
	rec := NewRecorder(7)
	rec.HandlePacket(protocol.NewPacket(7, nil))
	got, err := rec.WaitForCount(2, 20*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("partial result len=%d", len(got))
	}
	if h := rec.HeadersAccepted(); len(h) != 1 || h[0] != 7 {
		t.Fatalf("headers=%v", h)
	}
}

func TestLoggerIsUniversal(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	l := NewLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	if len(l.HeadersAccepted()) != 0 {
		t.Fatalf("logger should be universal")
	}
	l.HandlePacket(protocol.NewPacket(protocol.HeaderCounterSelection, []byte{1, 2}))
	out := buf.String()
	if !strings.Contains(out, `"id":4`) || !strings.Contains(out, `"family":0`) {
		t.Fatalf("unexpected log line %s", out)
	}
}
