package otel

import (
	"github.com/petal-labs/talon/engine"
)

// EnrichEmitter wraps an EventEmitter with OpenTelemetry trace context.
// When events are emitted, it looks up the active span from the TracingHandler
// and populates the TraceID and SpanID fields on the event.
//
// For entry-level events (where Entry is set), the entry span is checked
// first. If no entry span is found, it falls back to the run-level span.
// When no span is active, the event passes through unchanged.
func EnrichEmitter(emit engine.EventEmitter, tracing *TracingHandler) engine.EventEmitter {
	return func(e engine.Event) {
		if e.Entry != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.Section, e.Entry)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}
