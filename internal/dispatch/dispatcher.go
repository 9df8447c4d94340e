package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/profpipe/internal/observability"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// minWorkerWait bounds how often a worker with a configured timeout
// re-checks its running flag.
const minWorkerWait = time.Second

// Config tunes one dispatcher.
type Config struct {
	// Name labels logs and metrics, usually the connection variant.
	Name string
	// Timeout is the worker's bounded wait. Negative waits indefinitely.
	Timeout time.Duration
}

// Dispatcher owns the incoming queue and the single worker that fans
// packets out to registered handlers.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	queue    *Queue

	// lifecycle guards Start/Stop; gate orders the running flag against
	// Enqueue so nothing is pushed after Stop has drained.
	lifecycle sync.Mutex
	gate      sync.Mutex

	running     atomic.Bool
	keepRunning atomic.Bool
	stop        chan struct{}
	done        chan struct{}
}

func NewDispatcher(registry *Registry, cfg Config) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.Name == "" {
		cfg.Name = "dispatch"
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		queue:    NewQueue(),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Running reports whether a worker is alive.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Pending is the number of packets waiting for the worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Start launches the worker. It is a no-op while a worker is running; a
// worker that already stopped is joined first.
func (d *Dispatcher) Start() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.running.Load() {
		return
	}
	if d.done != nil {
		<-d.done
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running.Store(true)
	d.gate.Lock()
	d.keepRunning.Store(true)
	d.gate.Unlock()
	go d.loop(d.stop, d.done)
}

// Stop discards queued packets, wakes the worker and waits for it to exit.
// Safe to call more than once. Must not be called from a handler.
func (d *Dispatcher) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.gate.Lock()
	d.keepRunning.Store(false)
	d.gate.Unlock()

	if n := d.queue.Drain(); n > 0 {
		observability.RecordDropped(d.cfg.Name, "stopped", n)
	}
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
	d.stop = nil
}

// Enqueue hands p to the worker. It reports false, dropping p, when no
// handler is registered or the worker is not running.
func (d *Dispatcher) Enqueue(p protocol.Packet) bool {
	if d.registry.Len() == 0 {
		return false
	}
	d.gate.Lock()
	defer d.gate.Unlock()
	if !d.keepRunning.Load() {
		observability.RecordDropped(d.cfg.Name, "not_running", 1)
		return false
	}
	d.queue.Push(p)
	return true
}

func (d *Dispatcher) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer d.running.Store(false)

	wait := d.cfg.Timeout
	if wait >= 0 && wait < minWorkerWait {
		wait = minWorkerWait
	}
	for d.keepRunning.Load() {
		p, err := d.queue.Pop(wait, stop)
		if !d.keepRunning.Load() {
			break
		}
		if err != nil {
			continue
		}
		d.Dispatch(p)
	}
	if n := d.queue.Drain(); n > 0 {
		observability.RecordDropped(d.cfg.Name, "stopped", n)
	}
	log.Debug().Str("dispatcher", d.cfg.Name).Msg("dispatch.worker exited")
}

// Dispatch delivers p synchronously: universal handlers first, then the
// handlers indexed on p's header, each group in registration order.
func (d *Dispatcher) Dispatch(p protocol.Packet) {
	handlers := d.registry.Handlers(p.Header)
	for _, h := range handlers {
		d.invoke(h, p)
	}
	observability.RecordDispatched(d.cfg.Name, len(handlers))
}

func (d *Dispatcher) invoke(h Handler, p protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerPanic(d.cfg.Name)
			log.Error().
				Str("dispatcher", d.cfg.Name).
				Uint32("header", p.Header).
				Interface("panic", r).
				Msg("dispatch.handler panicked")
		}
	}()
	h.HandlePacket(p)
}
