// Package engine is the execution engine: it turns manifest entries into
// concrete actions (stage and spawn an embedded payload, spawn a system
// tool, or invoke a builtin collector), enforces priority ordering across
// sections, and guarantees cleanup of staged payloads on every exit path.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/petal-labs/talon/manifest"
)

// EventKind identifies the type of event emitted by the engine.
type EventKind string

const (
	// EventRunStarted is emitted when a manifest run begins.
	EventRunStarted EventKind = "run.started"

	// EventSectionStarted is emitted when a section begins executing.
	EventSectionStarted EventKind = "section.started"

	// EventEntryStarted is emitted when an entry begins execution.
	EventEntryStarted EventKind = "entry.started"

	// EventEntryFinished is emitted when an entry completes successfully.
	EventEntryFinished EventKind = "entry.finished"

	// EventEntryFailed is emitted when an entry fails. The run continues.
	EventEntryFailed EventKind = "entry.failed"

	// EventCleanupFailed is emitted when a staged payload could not be
	// deleted. It never changes the entry's outcome.
	EventCleanupFailed EventKind = "cleanup.failed"

	// EventRunFinished is emitted when the run completes.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a run. Events should
// be kept small; captured tool output lands in output files, not events.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Section is the manifest section name (empty for run-level events).
	Section string

	// Entry is the display name of the entry: the staged file name for
	// external entries, the literal name otherwise.
	Entry string

	// Exec is the entry's execution strategy (empty for run/section events).
	Exec manifest.ExecType

	// PID is the spawned process id, 0 when no process exists.
	PID int

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithEntry sets the section/entry identity on the event.
func (e Event) WithEntry(section, entry string, exec manifest.ExecType) Event {
	e.Section = section
	e.Entry = entry
	e.Exec = exec
	return e
}

// WithPID sets the process id on the event.
func (e Event) WithPID(pid int) Event {
	e.PID = pid
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as stamping trace metadata onto events.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers. Satisfied by
// bus.EventBus, so the engine never imports the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events. Implementations can
// log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// seqGen produces monotonically increasing sequence numbers for one run.
type seqGen struct {
	counter atomic.Uint64
}

func newSeqGen() *seqGen {
	return &seqGen{}
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
