// Package otel provides OpenTelemetry integration for engine events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/talon/engine"
)

// TracingHandler translates engine events into OpenTelemetry spans: one root
// span per run, one child span per executed entry. Span lifetimes follow the
// event stream, so a crash mid-run leaves the open spans unexported, which is
// the honest picture.
type TracingHandler struct {
	tracer trace.Tracer

	mu         sync.RWMutex
	runSpans   map[string]trace.Span      // runID -> span
	runCtxs    map[string]context.Context // runID -> context (for child spans)
	entrySpans map[string]trace.Span      // runID:section/entry -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from engine events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:     tracer,
		runSpans:   make(map[string]trace.Span),
		runCtxs:    make(map[string]context.Context),
		entrySpans: make(map[string]trace.Span),
	}
}

func entrySpanKey(runID, section, entry string) string {
	return runID + ":" + section + "/" + entry
}

// Handle processes an engine event and creates or ends spans accordingly.
// It implements engine.EventHandler semantics.
func (h *TracingHandler) Handle(e engine.Event) {
	switch e.Kind {
	case engine.EventRunStarted:
		h.handleRunStarted(e)
	case engine.EventSectionStarted:
		h.handleSectionStarted(e)
	case engine.EventEntryStarted:
		h.handleEntryStarted(e)
	case engine.EventEntryFinished:
		h.handleEntryFinished(e)
	case engine.EventEntryFailed:
		h.handleEntryFailed(e)
	case engine.EventCleanupFailed:
		h.handleCleanupFailed(e)
	case engine.EventRunFinished:
		h.handleRunFinished(e)
	}
}

// handleRunStarted creates a root span for the run.
func (h *TracingHandler) handleRunStarted(e engine.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.RunID,
		trace.WithAttributes(
			attribute.String("talon.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	if n, ok := e.Payload["entries"].(int); ok {
		span.SetAttributes(attribute.Int("talon.entries", n))
	}
	if n, ok := e.Payload["sections"].(int); ok {
		span.SetAttributes(attribute.Int("talon.sections", n))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleSectionStarted marks the section boundary on the run span.
func (h *TracingHandler) handleSectionStarted(e engine.Event) {
	h.mu.RLock()
	span, ok := h.runSpans[e.RunID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("talon.section", e.Section),
	}
	if p, found := e.Payload["priority"].(int); found {
		attrs = append(attrs, attribute.Int("talon.priority", p))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleEntryStarted creates a child span under the run span.
func (h *TracingHandler) handleEntryStarted(e engine.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "entry:"+e.Section+"/"+e.Entry,
		trace.WithAttributes(
			attribute.String("talon.run_id", e.RunID),
			attribute.String("talon.section", e.Section),
			attribute.String("talon.entry", e.Entry),
			attribute.String("talon.exec", string(e.Exec)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.entrySpans[entrySpanKey(e.RunID, e.Section, e.Entry)] = span
	h.mu.Unlock()
}

// handleEntryFinished ends the entry span with success status.
func (h *TracingHandler) handleEntryFinished(e engine.Event) {
	key := entrySpanKey(e.RunID, e.Section, e.Entry)

	h.mu.Lock()
	span, ok := h.entrySpans[key]
	if ok {
		delete(h.entrySpans, key)
	}
	h.mu.Unlock()

	if ok {
		if code, found := e.Payload["exit_code"].(int); found {
			span.SetAttributes(attribute.Int("talon.exit_code", code))
		}
		if e.PID != 0 {
			span.SetAttributes(attribute.Int("talon.pid", e.PID))
		}
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleEntryFailed ends the entry span with error status.
func (h *TracingHandler) handleEntryFailed(e engine.Event) {
	key := entrySpanKey(e.RunID, e.Section, e.Entry)

	h.mu.Lock()
	span, ok := h.entrySpans[key]
	if ok {
		delete(h.entrySpans, key)
	}
	h.mu.Unlock()

	if ok {
		errMsg := "unknown error"
		if msg, found := e.Payload["error"]; found {
			if s, ok := msg.(string); ok {
				errMsg = s
			}
		}
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(
			spanError(errMsg),
			trace.WithTimestamp(e.Time),
		)
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleCleanupFailed adds a span event on the still-open entry span. The
// engine emits cleanup.failed before closing out the entry, so the span is
// live here.
func (h *TracingHandler) handleCleanupFailed(e engine.Event) {
	h.mu.RLock()
	span, ok := h.entrySpans[entrySpanKey(e.RunID, e.Section, e.Entry)]
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("talon.entry", e.Entry),
	}
	if msg, found := e.Payload["error"].(string); found {
		attrs = append(attrs, attribute.String("talon.cleanup_error", msg))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleRunFinished ends the root run span.
func (h *TracingHandler) handleRunFinished(e engine.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if ok {
		status := ""
		if s, found := e.Payload["status"]; found {
			if str, ok := s.(string); ok {
				status = str
			}
		}

		span.SetAttributes(
			attribute.String("talon.duration", e.Elapsed.String()),
			attribute.String("talon.status", status),
		)
		if failed, found := e.Payload["failed"].(int); found {
			span.SetAttributes(attribute.Int("talon.failed", failed))
		}

		// A partial run still completed; only a run that never got through
		// its manifest is an error at the trace level.
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// ActiveSpanContext returns the SpanContext for the active entry span
// identified by runID, section, and entry. Returns an empty SpanContext if
// not found.
func (h *TracingHandler) ActiveSpanContext(runID, section, entry string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.entrySpans[entrySpanKey(runID, section, entry)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
