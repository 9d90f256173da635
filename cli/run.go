// Package cli implements the talon command line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/talon/bus"
	"github.com/petal-labs/talon/engine"
	"github.com/petal-labs/talon/logging"
	"github.com/petal-labs/talon/manifest"
	"github.com/petal-labs/talon/otel"
)

// Exit codes returned by the talon process.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitPartial      = 4
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Execute a collection manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("staging-dir", os.TempDir(), "Directory for staging extracted tools")
	cmd.Flags().StringP("output-dir", "o", "", "Directory for collected output files (default: current directory)")
	cmd.Flags().String("store-path", "", "Path to SQLite run ledger (default: no ledger)")
	cmd.Flags().Duration("entry-timeout", 0, "Per-entry execution timeout (0 = wait forever)")
	cmd.Flags().Bool("dry-run", false, "Parse and validate only, do not execute")
	cmd.Flags().String("log-file", "", "Write logs to file instead of stderr")
	cmd.Flags().String("log-level", "info", "Log level: debug | info | warn | error")
	cmd.Flags().Bool("trace", false, "Emit OpenTelemetry spans and metrics")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP endpoint for trace export (implies --trace)")
	cmd.Flags().String("format", "text", "Summary format: text | json")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	m, err := loadManifestForRun(args[0])
	if err != nil {
		return err
	}

	diags := m.Validate()
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		printDiagnosticsText(cmd.OutOrStdout(), diags)
		if manifest.HasErrors(diags) {
			return exitError(exitValidation, "validation failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Manifest valid: %d entries in %d sections.\n",
			m.EntryCount(), len(m.Tasks))
		return nil
	}

	// Diagnostics never gate execution: a broken entry fails on its own
	// during the run while everything else still collects.
	printDiagnosticLines(cmd.ErrOrStderr(), diags)

	logger, err := initRunLogging(cmd)
	if err != nil {
		return exitError(exitRuntime, "initialising logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()

	opts, cleanup, err := buildRunOptions(cmd, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := engine.New().Run(cmd.Context(), m, opts)
	if err != nil {
		return exitError(exitRuntime, "run failed: %v", err)
	}

	if err := writeRunSummary(cmd, summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return exitError(exitPartial, "%d of %d entries failed", summary.Failed, summary.Entries)
	}
	return nil
}

// loadManifestForRun parses the manifest, mapping failures to their exit
// codes. Only unreadable or unparseable files are fatal here; entry-level
// diagnostics are the run's business, not the loader's.
func loadManifestForRun(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return m, nil
}

func initRunLogging(cmd *cobra.Command) (*slog.Logger, error) {
	logFile, _ := cmd.Flags().GetString("log-file")

	cfg := logging.Config{Level: resolveLogLevel(cmd)}
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
	}
	if err := logging.Init(cfg); err != nil {
		return nil, err
	}
	return logging.L(), nil
}

// buildRunOptions assembles engine options from flags: the event handler
// chain (log transcript, optional SQLite ledger, optional OTel), staging
// and output paths, and the per-entry timeout. The returned cleanup func
// flushes and closes whatever was wired.
func buildRunOptions(cmd *cobra.Command, logger *slog.Logger) (engine.RunOptions, func(), error) {
	stagingDir, _ := cmd.Flags().GetString("staging-dir")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	entryTimeout, _ := cmd.Flags().GetDuration("entry-timeout")

	opts := engine.RunOptions{
		StagingDir:   stagingDir,
		OutputDir:    outputDir,
		EntryTimeout: entryTimeout,
		Logger:       logger,
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Audit lines go to disk, so they are written off the entry loop.
	auditLog := bus.NewAsyncHandler(logging.EventLogger(logging.Audit()), bus.AsyncConfig{})
	cleanups = append(cleanups, func() { auditLog.Close() })
	handlers := []engine.EventHandler{auditLog.Handle}

	// The ledger hangs off the event bus rather than the handler chain:
	// the engine publishes, a subscription goroutine drains, and a slow
	// disk never stalls the entry loop.
	if storePath, _ := cmd.Flags().GetString("store-path"); storePath != "" {
		store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: storePath})
		if err != nil {
			return opts, cleanup, exitError(exitRuntime, "opening run ledger: %v", err)
		}
		eventBus := bus.NewMemBus(bus.MemBusConfig{})
		sub := eventBus.SubscribeAll()
		storeSub := bus.NewStoreSubscriber(store, logger)

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for e := range sub.Events() {
				storeSub.Handle(e)
			}
		}()

		opts.EventBus = eventBus
		cleanups = append(cleanups,
			func() { _ = store.Close() },
			func() {
				_ = eventBus.Close()
				<-drained
			},
		)
	}

	trace, _ := cmd.Flags().GetBool("trace")
	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	if trace || endpoint != "" {
		shutdown, err := otel.Setup(cmd.Context(), otel.SetupConfig{Endpoint: endpoint})
		if err != nil {
			cleanup()
			return opts, func() {}, exitError(exitRuntime, "initialising telemetry: %v", err)
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		})

		tracing := otel.NewTracingHandler(otelapi.Tracer("talon"))
		metrics, err := otel.NewMetricsHandler(otelapi.Meter("talon"))
		if err != nil {
			cleanup()
			return opts, func() {}, exitError(exitRuntime, "initialising metrics: %v", err)
		}
		handlers = append(handlers, tracing.Handle, metrics.Handle)
		opts.EventEmitterDecorator = func(emit engine.EventEmitter) engine.EventEmitter {
			return otel.EnrichEmitter(emit, tracing)
		}
	}

	opts.EventHandler = engine.MultiEventHandler(handlers...)
	return opts, cleanup, nil
}

// writeRunSummary prints the end-of-run summary in the requested format.
func writeRunSummary(cmd *cobra.Command, summary engine.Summary) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run_id":  summary.RunID,
			"entries": summary.Entries,
			"failed":  summary.Failed,
			"elapsed": summary.Elapsed.String(),
		})
	case "text":
		fmt.Fprintf(out, "run %s: ran %d entries, %d failed (%s)\n",
			summary.RunID, summary.Entries, summary.Failed, summary.Elapsed.Round(time.Millisecond))
		return nil
	default:
		return exitError(exitValidation, "unknown format %q (use text or json)", format)
	}
}
