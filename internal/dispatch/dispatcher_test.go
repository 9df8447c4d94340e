package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

type delivery struct {
	handler string
	header  uint32
}

type recordingHandler struct {
	name    string
	headers []uint32
	out     chan<- delivery
	conn    Connection
}

func (h *recordingHandler) HeadersAccepted() []uint32 { return h.headers }

func (h *recordingHandler) HandlePacket(p protocol.Packet) {
	h.out <- delivery{handler: h.name, header: p.Header}
}

func (h *recordingHandler) SetConnection(c Connection) { h.conn = c }

func expectDelivery(t *testing.T, ch <-chan delivery, want delivery) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("delivery got=%+v want=%+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %+v", want)
	}
}

func expectNoDelivery(t *testing.T, ch <-chan delivery) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryOrdering(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	u1 := HandlerFunc{}
	i1 := HandlerFunc{Headers: []uint32{5, 6}}
	u2 := HandlerFunc{}
	for _, h := range []Handler{u1, i1, u2} {
		if err := r.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("len=%d", r.Len())
	}
	if got := r.Handlers(5); len(got) != 3 {
		t.Fatalf("header 5 handlers=%d want 3", len(got))
	}
	if got := r.Handlers(7); len(got) != 2 {
		t.Fatalf("header 7 handlers=%d want 2", len(got))
	}
	if err := r.Register(nil); err != ErrHandlerNil {
		t.Fatalf("expected ErrHandlerNil, got %v", err)
	}
}

func TestDispatchUniversalThenIndexed(t *testing.T) {
	testlog.Start(t)
	const h = protocol.HeaderTimelineMessage
	out := make(chan delivery, 8)
	reg := NewRegistry()
	// register the indexed handler first: universal still runs first
	_ = reg.Register(&recordingHandler{name: "I", headers: []uint32{h}, out: out})
	_ = reg.Register(&recordingHandler{name: "U", out: out})

	d := NewDispatcher(reg, Config{Name: "test", Timeout: -1})
	d.Start()
	defer d.Stop()

	if !d.Enqueue(protocol.NewPacket(h, []byte{1})) {
		t.Fatalf("enqueue rejected")
	}
	expectDelivery(t, out, delivery{handler: "U", header: h})
	expectDelivery(t, out, delivery{handler: "I", header: h})

	d.Enqueue(protocol.NewPacket(protocol.HeaderTimelineDirectory, nil))
	expectDelivery(t, out, delivery{handler: "U", header: protocol.HeaderTimelineDirectory})
	expectNoDelivery(t, out)
}

func TestEnqueueRejectedWithoutHandlersOrWorker(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(nil, Config{Timeout: -1})
	d.Start()
	if d.Enqueue(protocol.NewPacket(1, nil)) {
		t.Fatalf("enqueue accepted with no handlers")
	}
	d.Stop()

	out := make(chan delivery, 1)
	_ = d.Registry().Register(&recordingHandler{name: "U", out: out})
	if d.Enqueue(protocol.NewPacket(1, nil)) {
		t.Fatalf("enqueue accepted while stopped")
	}
}

func TestStopDiscardsQueuedPackets(t *testing.T) {
	testlog.Start(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []uint32
	reg := NewRegistry()
	_ = reg.Register(HandlerFunc{Fn: func(p protocol.Packet) {
		mu.Lock()
		seen = append(seen, p.Header)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}})

	d := NewDispatcher(reg, Config{Timeout: 10 * time.Millisecond})
	d.Start()
	d.Enqueue(protocol.NewPacket(1, nil))
	<-entered
	d.Enqueue(protocol.NewPacket(2, nil))
	d.Enqueue(protocol.NewPacket(3, nil))

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("delivered %v want only [1]", seen)
	}
	if d.Running() {
		t.Fatalf("worker still running after stop")
	}

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second stop blocked")
	}
}

func TestStartIsIdempotentAndRestartable(t *testing.T) {
	testlog.Start(t)
	out := make(chan delivery, 4)
	reg := NewRegistry()
	_ = reg.Register(&recordingHandler{name: "U", out: out})
	d := NewDispatcher(reg, Config{Timeout: -1})
	d.Start()
	d.Start()
	d.Enqueue(protocol.NewPacket(1, nil))
	expectDelivery(t, out, delivery{handler: "U", header: 1})
	expectNoDelivery(t, out)
	d.Stop()

	d.Start()
	defer d.Stop()
	d.Enqueue(protocol.NewPacket(2, nil))
	expectDelivery(t, out, delivery{handler: "U", header: 2})
}

func TestHandlerPanicIsContained(t *testing.T) {
	testlog.Start(t)
	out := make(chan delivery, 4)
	reg := NewRegistry()
	_ = reg.Register(HandlerFunc{Fn: func(protocol.Packet) { panic("boom") }})
	_ = reg.Register(&recordingHandler{name: "after", out: out})
	d := NewDispatcher(reg, Config{Timeout: -1})
	d.Start()
	defer d.Stop()
	d.Enqueue(protocol.NewPacket(3, nil))
	expectDelivery(t, out, delivery{handler: "after", header: 3})
}
