package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/danmuck/profpipe/internal/testutil/testlog"
)

func TestQueueFIFOAndDrain(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	for i := 1; i <= 3; i++ {
		q.Push(protocol.NewPacket(uint32(i), nil))
	}
	p, err := q.Pop(0, nil)
	if err != nil || p.Header != 1 {
		t.Fatalf("first pop got=%v err=%v", p, err)
	}
	if n := q.Drain(); n != 2 {
		t.Fatalf("drained %d want 2", n)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain")
	}
}

func TestQueuePopTimeout(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	start := time.Now()
	_, err := q.Pop(20*time.Millisecond, nil)
	if !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("returned before deadline")
	}
}

func TestQueuePopCancel(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	cancel := make(chan struct{})
	close(cancel)
	if _, err := q.Pop(-1, cancel); !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("expected ErrQueueStopped, got %v", err)
	}
}

func TestQueueWakesBlockedWaiter(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	got := make(chan protocol.Packet, 1)
	go func() {
		p, err := q.Pop(-1, nil)
		if err == nil {
			got <- p
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Push(protocol.NewPacket(7, []byte{1}))
	select {
	case p := <-got:
		if p.Header != 7 {
			t.Fatalf("got header %d", p.Header)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never woke")
	}
}

func TestQueueTwoWaitersBothServed(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	var wg sync.WaitGroup
	results := make(chan uint32, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := q.Pop(time.Second, nil)
			if err == nil {
				results <- p.Header
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Push(protocol.NewPacket(1, nil))
	q.Push(protocol.NewPacket(2, nil))
	wg.Wait()
	close(results)
	seen := 0
	for range results {
		seen++
	}
	if seen != 2 {
		t.Fatalf("served %d waiters want 2", seen)
	}
}
