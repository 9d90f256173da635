package bus

import (
	"sync"

	"github.com/petal-labs/talon/engine"
)

// AsyncConfig controls the behavior of AsyncHandler.
type AsyncConfig struct {
	// BufferSize is the number of events held while the wrapped handler
	// catches up (default: 256).
	BufferSize int
}

// AsyncHandler wraps an engine.EventHandler and runs it on a background
// goroutine. The engine executes entries on a single thread, so a slow
// observer (a disk-backed ledger, a network exporter) must never sit on
// the hot path. When the buffer fills, events are dropped; the ledger is
// best-effort by contract.
type AsyncHandler struct {
	handle engine.EventHandler
	ch     chan engine.Event

	mu     sync.Mutex
	closed bool
	doneCh chan struct{}
}

// NewAsyncHandler creates an AsyncHandler that forwards events to handle
// on a background goroutine.
func NewAsyncHandler(handle engine.EventHandler, cfg AsyncConfig) *AsyncHandler {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	a := &AsyncHandler{
		handle: handle,
		ch:     make(chan engine.Event, bufSize),
		doneCh: make(chan struct{}),
	}

	go a.run()

	return a
}

// Handle enqueues an event for the wrapped handler. It never blocks: if
// the buffer is full or the handler is closed, the event is dropped.
func (a *AsyncHandler) Handle(e engine.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	select {
	case a.ch <- e:
	default:
		// Drop if buffer full.
	}
}

// Close drains buffered events through the wrapped handler and stops the
// background goroutine. It is safe to call Close multiple times.
func (a *AsyncHandler) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.doneCh
}

// run is the background goroutine that feeds events to the wrapped
// handler until the channel is closed and drained.
func (a *AsyncHandler) run() {
	defer close(a.doneCh)

	for e := range a.ch {
		a.handle(e)
	}
}
