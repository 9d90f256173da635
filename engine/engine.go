package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/talon/collect"
	"github.com/petal-labs/talon/manifest"
	"github.com/petal-labs/talon/payload"
)

// CollectorRegistry is the dispatch contract for builtin collectors:
// invoke by name, write to the output path, or report the name unknown.
// Satisfied by collect.Registry.
type CollectorRegistry interface {
	Invoke(ctx context.Context, name, outputPath string) error
}

// Engine executes manifests and emits events.
type Engine struct {
	payloads   *payload.Store
	collectors CollectorRegistry
}

// New creates an engine backed by the process-wide payload store and the
// builtin collector registry.
func New() *Engine {
	return &Engine{
		payloads:   payload.Default(),
		collectors: collect.Global(),
	}
}

// NewWith creates an engine with explicit collaborators. Either argument
// may be nil to keep the default.
func NewWith(payloads *payload.Store, collectors CollectorRegistry) *Engine {
	e := New()
	if payloads != nil {
		e.payloads = payloads
	}
	if collectors != nil {
		e.collectors = collectors
	}
	return e
}

// RunOptions controls execution behavior.
type RunOptions struct {
	// StagingDir receives extracted payloads for external entries that do
	// not carry their own dir_path.
	StagingDir string

	// OutputDir anchors relative output_file paths. Empty means the
	// current directory.
	OutputDir string

	// EntryTimeout bounds each entry's execution (0 = wait forever,
	// matching the engine's historical behavior).
	EntryTimeout time.Duration

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus distributes events to subscribers.
	EventBus EventPublisher

	// Logger receives entry-level diagnostics. Nil means slog.Default.
	Logger *slog.Logger
}

// Summary is the outcome of one manifest run.
type Summary struct {
	RunID   string
	Entries int
	Failed  int
	Elapsed time.Duration
}

// Run executes every entry of the manifest exactly once: sections in
// ascending priority order, categories in sorted name order, entries in
// declared order. No entry failure halts the run; the only early exit is
// context cancellation.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, opts RunOptions) (Summary, error) {
	if m == nil {
		return Summary{}, fmt.Errorf("manifest is nil")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := uuid.NewString()
	summary := Summary{RunID: runID}

	seq := newSeqGen()
	emit := func(ev Event) {
		ev.Seq = seq.Next()
		if opts.EventBus != nil {
			opts.EventBus.Publish(ev)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(ev)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}

	runStart := opts.Now()
	emit(NewEvent(EventRunStarted, runID).
		WithPayload("entries", m.EntryCount()).
		WithPayload("sections", len(m.Tasks)))

	for _, ns := range m.OrderedSections() {
		emit(NewEvent(EventSectionStarted, runID).
			WithEntry(ns.Name, "", "").
			WithElapsed(opts.Now().Sub(runStart)).
			WithPayload("priority", int(ns.Section.Priority)).
			WithPayload("kind", string(ns.Section.Kind)))

		for _, category := range ns.Section.OrderedCategories() {
			for _, entry := range ns.Section.Entries[category] {
				if err := ctx.Err(); err != nil {
					return summary, fmt.Errorf("run canceled: %w", err)
				}

				summary.Entries++
				if failed := e.runEntry(ctx, runID, ns.Name, entry, opts, emit, runStart, logger); failed {
					summary.Failed++
				}
			}
		}
	}

	summary.Elapsed = opts.Now().Sub(runStart)
	status := "completed"
	if summary.Failed > 0 {
		status = "partial"
	}
	emit(NewEvent(EventRunFinished, runID).
		WithElapsed(summary.Elapsed).
		WithPayload("status", status).
		WithPayload("entries", summary.Entries).
		WithPayload("failed", summary.Failed))

	return summary, nil
}

// runEntry executes a single entry and emits its lifecycle events.
// The returned bool reports whether the entry failed.
func (e *Engine) runEntry(
	ctx context.Context,
	runID, section string,
	entry manifest.Entry,
	opts RunOptions,
	emit EventEmitter,
	runStart time.Time,
	logger *slog.Logger,
) bool {
	entryEvent := func(kind EventKind) Event {
		return NewEvent(kind, runID).
			WithEntry(section, entry.Name, entry.Exec).
			WithElapsed(opts.Now().Sub(runStart))
	}

	emit(entryEvent(EventEntryStarted).
		WithPayload("args", entry.Args).
		WithPayload("output_file", entry.OutputFile))

	entryCtx := ctx
	if opts.EntryTimeout > 0 {
		var cancel context.CancelFunc
		entryCtx, cancel = context.WithTimeout(ctx, opts.EntryTimeout)
		defer cancel()
	}

	report, err := e.dispatch(entryCtx, entry, opts)

	if report.CleanupErr != nil {
		logger.Warn("staged payload cleanup failed",
			"section", section,
			"entry", report.DisplayName,
			"error", report.CleanupErr,
		)
		emit(entryEvent(EventCleanupFailed).
			WithPID(report.PID).
			WithPayload("error", report.CleanupErr.Error()))
	}

	if err != nil {
		logger.Error("entry failed",
			"section", section,
			"entry", report.DisplayName,
			"pid", report.PID,
			"error", err,
		)
		emit(entryEvent(EventEntryFailed).
			WithPID(report.PID).
			WithPayload("error", err.Error()))
		return true
	}

	logger.Info("entry finished",
		"section", section,
		"entry", report.DisplayName,
		"pid", report.PID,
		"exit_code", report.ExitCode,
		"output_file", entry.OutputFile,
	)
	if len(report.Stderr) > 0 {
		logger.Debug("entry stderr",
			"entry", report.DisplayName,
			"stderr", string(report.Stderr),
		)
	}
	emit(entryEvent(EventEntryFinished).
		WithPID(report.PID).
		WithPayload("exit_code", report.ExitCode).
		WithPayload("display_name", report.DisplayName))
	return false
}

// dispatch routes one entry to its execution strategy.
func (e *Engine) dispatch(ctx context.Context, entry manifest.Entry, opts RunOptions) (entryReport, error) {
	strat, err := e.strategyFor(entry.Exec)
	if err != nil {
		return entryReport{DisplayName: entry.Name, ExitCode: -1}, err
	}

	req := entryRequest{
		Entry:      entry,
		StagingDir: stagingDirFor(entry, opts),
		OutputPath: outputPathFor(entry, opts),
	}
	return strat.run(ctx, req)
}

// stagingDirFor prefers the entry's own dir_path (the one field that gets
// environment expansion) and falls back to the run-wide staging directory.
func stagingDirFor(entry manifest.Entry, opts RunOptions) string {
	if dir := entry.ExpandedDirPath(); dir != "" {
		return dir
	}
	return opts.StagingDir
}

// outputPathFor anchors relative output paths under the run's output dir.
func outputPathFor(entry manifest.Entry, opts RunOptions) string {
	if entry.OutputFile == "" || filepath.IsAbs(entry.OutputFile) {
		return entry.OutputFile
	}
	if opts.OutputDir == "" {
		return entry.OutputFile
	}
	return filepath.Join(opts.OutputDir, entry.OutputFile)
}
