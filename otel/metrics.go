package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/talon/engine"
)

// MetricsHandler translates engine events into OpenTelemetry metrics. It
// records counters and histograms for entry executions, failures, staged
// payload cleanup failures, and run durations.
type MetricsHandler struct {
	entryExecutions metric.Int64Counter
	entryFailures   metric.Int64Counter
	cleanupFailures metric.Int64Counter
	entryDuration   metric.Float64Histogram
	runDuration     metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording collection-run metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	entryExec, err := meter.Int64Counter("talon.entry.executions",
		metric.WithDescription("Number of entry executions"),
	)
	if err != nil {
		return nil, err
	}

	entryFail, err := meter.Int64Counter("talon.entry.failures",
		metric.WithDescription("Number of entry failures"),
	)
	if err != nil {
		return nil, err
	}

	cleanupFail, err := meter.Int64Counter("talon.cleanup.failures",
		metric.WithDescription("Number of staged payload cleanup failures"),
	)
	if err != nil {
		return nil, err
	}

	entryDur, err := meter.Float64Histogram("talon.entry.duration",
		metric.WithDescription("Duration of entry execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("talon.run.duration",
		metric.WithDescription("Duration of collection run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		entryExecutions: entryExec,
		entryFailures:   entryFail,
		cleanupFailures: cleanupFail,
		entryDuration:   entryDur,
		runDuration:     runDur,
	}, nil
}

// Handle processes an engine event and records the appropriate metrics.
// It implements engine.EventHandler semantics.
func (h *MetricsHandler) Handle(e engine.Event) {
	switch e.Kind {
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

func entryAttrs(e engine.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("exec", string(e.Exec)),
		attribute.String("section", e.Section),
	)
}

// handleEntryFinished increments the execution counter and records duration.
func (h *MetricsHandler) handleEntryFinished(e engine.Event) {
	ctx := context.Background()
	attrs := entryAttrs(e)
	h.entryExecutions.Add(ctx, 1, attrs)
	h.entryDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

// handleEntryFailed increments both counters; a failed entry still executed.
func (h *MetricsHandler) handleEntryFailed(e engine.Event) {
	ctx := context.Background()
	attrs := entryAttrs(e)
	h.entryExecutions.Add(ctx, 1, attrs)
	h.entryFailures.Add(ctx, 1, attrs)
}

// handleCleanupFailed increments the cleanup failure counter.
func (h *MetricsHandler) handleCleanupFailed(e engine.Event) {
	h.cleanupFailures.Add(context.Background(), 1, entryAttrs(e))
}

// handleRunFinished records the collection run duration.
func (h *MetricsHandler) handleRunFinished(e engine.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("run_id", e.RunID),
	)
	h.runDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}
