package pipe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/protocol/directory"
	"github.com/danmuck/profpipe/internal/protocol/session"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.PollTimeout = 20 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.MaxDelay = 20 * time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg
}

func testDecoder() directory.Static {
	return directory.Static{
		Directory: directory.Directory{Categories: []directory.Category{
			{Name: "a", Counters: []uint16{1, 2}},
			{Name: "b", Counters: []uint16{3}},
		}},
		Translation: map[uint16]uint16{1: 101, 2: 102, 3: 103},
	}
}

func startServer(t *testing.T, cfg ServerConfig, factory HandlerFactory) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(cfg, factory)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("serve did not return after cancel")
		}
	})
	return srv, ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerNegotiatesAndDispatches(t *testing.T) {
	testlog.Start(t)
	received := make(chan protocol.Packet, 8)
	factory := func(string) []dispatch.Handler {
		return []dispatch.Handler{dispatch.HandlerFunc{Fn: func(p protocol.Packet) { received <- p }}}
	}
	srv, addr := startServer(t, ServerConfig{Session: testSessionConfig(), Decoder: testDecoder()}, factory)

	ctx := context.Background()
	cli, err := Dial(ctx, "tcp", addr, DialConfig{Session: testSessionConfig(), Order: protocol.LittleEndian, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	if err := cli.Handshake(ctx, protocol.StreamMetadata{Version: protocol.EncodeVersion(1, 0, 0), MaxDataLen: 4096, PID: 99}); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	if err := cli.SendPacket(0, 2, []byte{0xca, 0xfe}); err != nil {
		t.Fatalf("send directory: %v", err)
	}
	sel, err := cli.ReadPacket(time.Second)
	if err != nil {
		t.Fatalf("read selection: %v", err)
	}
	if sel.Header != protocol.HeaderCounterSelection {
		t.Fatalf("reply header=%#x", sel.Header)
	}
	period, ids, err := protocol.DecodeCounterSelection(sel.Payload, protocol.LittleEndian)
	if err != nil {
		t.Fatalf("decode selection: %v", err)
	}
	if period != 10000 || len(ids) != 3 || ids[0] != 101 || ids[1] != 102 || ids[2] != 103 {
		t.Fatalf("selection period=%d ids=%v", period, ids)
	}

	if err := cli.SendPacket(1, 1, []byte("tick")); err != nil {
		t.Fatalf("send timeline: %v", err)
	}
	for _, want := range []uint32{protocol.HeaderCounterDirectory, protocol.HeaderTimelineMessage} {
		select {
		case p := <-received:
			if p.Header != want {
				t.Fatalf("handler got %#x want %#x", p.Header, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler never saw %#x", want)
		}
	}

	sessions := srv.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions=%d want 1", len(sessions))
	}
	s := sessions[0]
	if s.State != "streaming" || s.ByteOrder != "little-endian" || s.Counters != 3 || s.PID != 99 || s.Version != "1.0.0" {
		t.Fatalf("unexpected session %+v", s)
	}

	_ = cli.Close()
	waitFor(t, func() bool { return len(srv.Sessions()) == 0 })
}

func TestServerRejectsUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	cfg := testSessionConfig()
	cfg.VersionConstraint = ">= 2.0.0"
	_, addr := startServer(t, ServerConfig{Session: cfg}, nil)

	ctx := context.Background()
	cli, err := Dial(ctx, "tcp", addr, DialConfig{Session: testSessionConfig(), MaxAttempts: 3})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	err = cli.Handshake(ctx, protocol.StreamMetadata{Version: protocol.EncodeVersion(1, 4, 0)})
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected the host to hang up, got %v", err)
	}
}

func TestServerWithoutDecoderForwardsDirectory(t *testing.T) {
	testlog.Start(t)
	received := make(chan protocol.Packet, 4)
	factory := func(string) []dispatch.Handler {
		return []dispatch.Handler{dispatch.HandlerFunc{
			Headers: []uint32{protocol.HeaderCounterDirectory},
			Fn:      func(p protocol.Packet) { received <- p },
		}}
	}
	_, addr := startServer(t, ServerConfig{Session: testSessionConfig()}, factory)

	ctx := context.Background()
	cli, err := Dial(ctx, "tcp", addr, DialConfig{Session: testSessionConfig(), MaxAttempts: 3})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	if err := cli.Handshake(ctx, protocol.StreamMetadata{}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if err := cli.SendPacket(0, 2, []byte{1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-received:
		if p.Header != protocol.HeaderCounterDirectory {
			t.Fatalf("header=%#x", p.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("directory not forwarded")
	}
	if _, err := cli.ReadPacket(50 * time.Millisecond); !protocol.IsRetryable(err) {
		t.Fatalf("expected no selection reply, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Dial(context.Background(), "tcp", addr, DialConfig{Session: testSessionConfig(), MaxAttempts: 2})
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
