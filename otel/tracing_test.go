package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/talon/engine"
	"github.com/petal-labs/talon/manifest"
	talonotel "github.com/petal-labs/talon/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func TestTracingHandler_RunStartedCreatesRootSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{
		Kind:  engine.EventRunStarted,
		RunID: "run-1",
		Time:  now,
		Payload: map[string]any{
			"entries":  4,
			"sections": 2,
		},
	})

	sc := h.ActiveRunSpanContext("run-1")
	if !sc.IsValid() {
		t.Fatal("expected valid run span context after run.started")
	}

	// End the run to flush the span.
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(100 * time.Millisecond),
		Elapsed: 100 * time.Millisecond,
		Payload: map[string]any{"status": "completed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	runSpan := spans[0]
	if runSpan.Name != "run:run-1" {
		t.Errorf("expected span name 'run:run-1', got %q", runSpan.Name)
	}

	found := false
	for _, attr := range runSpan.Attributes {
		if string(attr.Key) == "talon.run_id" && attr.Value.AsString() == "run-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected talon.run_id attribute on run span")
	}
}

func TestTracingHandler_EntryStartedCreatesChildSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{
		Kind:    engine.EventRunStarted,
		RunID:   "run-1",
		Time:    now,
		Payload: map[string]any{},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryStarted,
		RunID:   "run-1",
		Section: "process",
		Entry:   "pslist.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(10 * time.Millisecond),
	})

	sc := h.ActiveSpanContext("run-1", "process", "pslist.exe")
	if !sc.IsValid() {
		t.Fatal("expected valid entry span context after entry.started")
	}

	runSC := h.ActiveRunSpanContext("run-1")
	if sc.TraceID() != runSC.TraceID() {
		t.Error("expected entry span to share trace ID with run span")
	}

	h.Handle(engine.Event{
		Kind:    engine.EventEntryFinished,
		RunID:   "run-1",
		Section: "process",
		Entry:   "pslist.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(20 * time.Millisecond),
		Elapsed: 10 * time.Millisecond,
		Payload: map[string]any{"exit_code": 0},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(30 * time.Millisecond),
		Elapsed: 30 * time.Millisecond,
		Payload: map[string]any{"status": "completed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	var entrySpan *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "entry:process/pslist.exe" {
			entrySpan = &spans[i]
			break
		}
	}
	if entrySpan == nil {
		t.Fatal("did not find entry:process/pslist.exe span")
	}

	if entrySpan.Parent.TraceID() != runSC.TraceID() {
		t.Error("expected entry span parent trace ID to match run span trace ID")
	}
	if entrySpan.Parent.SpanID() != runSC.SpanID() {
		t.Error("expected entry span parent span ID to match run span span ID")
	}

	foundExec := false
	for _, attr := range entrySpan.Attributes {
		if string(attr.Key) == "talon.exec" && attr.Value.AsString() == "external" {
			foundExec = true
		}
	}
	if !foundExec {
		t.Error("expected talon.exec attribute on entry span")
	}
}

func TestTracingHandler_EntryFinishedEndsSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{Kind: engine.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryStarted,
		RunID:   "run-1",
		Section: "network",
		Entry:   "netstat",
		Exec:    manifest.ExecSystem,
		Time:    now.Add(10 * time.Millisecond),
	})

	sc := h.ActiveSpanContext("run-1", "network", "netstat")
	if !sc.IsValid() {
		t.Fatal("expected valid span before finish")
	}

	h.Handle(engine.Event{
		Kind:    engine.EventEntryFinished,
		RunID:   "run-1",
		Section: "network",
		Entry:   "netstat",
		Exec:    manifest.ExecSystem,
		Time:    now.Add(20 * time.Millisecond),
		Elapsed: 10 * time.Millisecond,
		Payload: map[string]any{"exit_code": 0},
	})

	// Entry span context should no longer be valid (span removed from map).
	sc = h.ActiveSpanContext("run-1", "network", "netstat")
	if sc.IsValid() {
		t.Error("expected invalid span context after entry.finished")
	}

	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(30 * time.Millisecond),
		Payload: map[string]any{"status": "completed"},
	})

	for _, s := range exporter.GetSpans() {
		if s.Name == "entry:network/netstat" {
			if s.Status.Code != otelcodes.Ok {
				t.Errorf("expected Ok status on finished entry span, got %v", s.Status.Code)
			}
			return
		}
	}
	t.Error("entry:network/netstat span not found in exported spans")
}

func TestTracingHandler_EntryFailedSetsErrorStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{Kind: engine.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryStarted,
		RunID:   "run-1",
		Section: "process",
		Entry:   "ghost.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(10 * time.Millisecond),
	})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryFailed,
		RunID:   "run-1",
		Section: "process",
		Entry:   "ghost.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(20 * time.Millisecond),
		Elapsed: 10 * time.Millisecond,
		Payload: map[string]any{"error": "payload not found"},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(30 * time.Millisecond),
		Payload: map[string]any{"status": "partial"},
	})

	for _, s := range exporter.GetSpans() {
		if s.Name == "entry:process/ghost.exe" {
			if s.Status.Code != otelcodes.Error {
				t.Errorf("expected Error status, got %v", s.Status.Code)
			}
			if s.Status.Description != "payload not found" {
				t.Errorf("expected error description 'payload not found', got %q", s.Status.Description)
			}
			foundException := false
			for _, ev := range s.Events {
				if ev.Name == "exception" {
					foundException = true
				}
			}
			if !foundException {
				t.Error("expected exception event on failed span")
			}
			return
		}
	}
	t.Error("entry:process/ghost.exe span not found")
}

func TestTracingHandler_CleanupFailedBecomesSpanEvent(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{Kind: engine.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryStarted,
		RunID:   "run-1",
		Section: "process",
		Entry:   "pslist.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(10 * time.Millisecond),
	})
	// cleanup.failed lands while the entry span is still open.
	h.Handle(engine.Event{
		Kind:    engine.EventCleanupFailed,
		RunID:   "run-1",
		Section: "process",
		Entry:   "pslist.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(18 * time.Millisecond),
		Payload: map[string]any{"error": "permission denied"},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventEntryFinished,
		RunID:   "run-1",
		Section: "process",
		Entry:   "pslist.exe",
		Exec:    manifest.ExecExternal,
		Time:    now.Add(20 * time.Millisecond),
		Payload: map[string]any{"exit_code": 0},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(30 * time.Millisecond),
		Payload: map[string]any{"status": "completed"},
	})

	for _, s := range exporter.GetSpans() {
		if s.Name == "entry:process/pslist.exe" {
			for _, ev := range s.Events {
				if ev.Name == "cleanup.failed" {
					return
				}
			}
			t.Fatal("expected cleanup.failed span event on entry span")
		}
	}
	t.Error("entry span not found")
}

func TestTracingHandler_SectionStartedBecomesRunSpanEvent(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{Kind: engine.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(engine.Event{
		Kind:    engine.EventSectionStarted,
		RunID:   "run-1",
		Section: "process",
		Time:    now.Add(5 * time.Millisecond),
		Payload: map[string]any{"priority": 1},
	})
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(30 * time.Millisecond),
		Payload: map[string]any{"status": "completed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	for _, ev := range spans[0].Events {
		if ev.Name == "section.started" {
			return
		}
	}
	t.Error("expected section.started event on run span")
}

func TestTracingHandler_PartialRunStaysOk(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	h.Handle(engine.Event{Kind: engine.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(engine.Event{
		Kind:    engine.EventRunFinished,
		RunID:   "run-1",
		Time:    now.Add(50 * time.Millisecond),
		Elapsed: 50 * time.Millisecond,
		Payload: map[string]any{"status": "partial", "failed": 2},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	// Entry failures never fail the run; the run span reflects that.
	if spans[0].Status.Code != otelcodes.Ok {
		t.Errorf("expected Ok status on partial run, got %v", spans[0].Status.Code)
	}

	sc := h.ActiveRunSpanContext("run-1")
	if sc.IsValid() {
		t.Error("expected invalid run span context after run.finished")
	}
}

func TestTracingHandler_FullLifecycle(t *testing.T) {
	exporter, tp := newTestTracer()
	h := talonotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()

	events := []engine.Event{
		{Kind: engine.EventRunStarted, RunID: "r1", Time: now},
		{Kind: engine.EventSectionStarted, RunID: "r1", Section: "process", Time: now.Add(1 * time.Millisecond)},
		{Kind: engine.EventEntryStarted, RunID: "r1", Section: "process", Entry: "pslist.exe", Exec: manifest.ExecExternal, Time: now.Add(2 * time.Millisecond)},
		{Kind: engine.EventEntryFinished, RunID: "r1", Section: "process", Entry: "pslist.exe", Exec: manifest.ExecExternal, Time: now.Add(4 * time.Millisecond), Elapsed: 2 * time.Millisecond, Payload: map[string]any{"exit_code": 0}},
		{Kind: engine.EventEntryStarted, RunID: "r1", Section: "process", Entry: "ProcInfo", Exec: manifest.ExecInternal, Time: now.Add(5 * time.Millisecond)},
		{Kind: engine.EventEntryFailed, RunID: "r1", Section: "process", Entry: "ProcInfo", Exec: manifest.ExecInternal, Time: now.Add(6 * time.Millisecond), Elapsed: 1 * time.Millisecond, Payload: map[string]any{"error": "not supported"}},
		{Kind: engine.EventRunFinished, RunID: "r1", Time: now.Add(7 * time.Millisecond), Elapsed: 7 * time.Millisecond, Payload: map[string]any{"status": "partial", "failed": 1}},
	}

	for _, e := range events {
		h.Handle(e)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans (run + 2 entries), got %d", len(spans))
	}

	names := map[string]bool{}
	for _, s := range spans {
		names[s.Name] = true
	}
	for _, expected := range []string{"run:r1", "entry:process/pslist.exe", "entry:process/ProcInfo"} {
		if !names[expected] {
			t.Errorf("expected span %q not found", expected)
		}
	}

	traceID := spans[0].SpanContext.TraceID()
	for _, s := range spans {
		if s.SpanContext.TraceID() != traceID {
			t.Error("expected all spans to share the same trace ID")
		}
	}
}
