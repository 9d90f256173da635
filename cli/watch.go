package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/petal-labs/talon/engine"
	"github.com/petal-labs/talon/logging"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// NewWatchCmd creates the "watch" subcommand: repeated collection runs on a
// cron schedule, until interrupted.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <manifest>",
		Short: "Run a manifest repeatedly on a cron schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	cmd.Flags().String("schedule", "", "UTC cron expression (5 fields), e.g. \"0 */6 * * *\"")
	cmd.Flags().String("staging-dir", "", "Directory for staging extracted tools")
	cmd.Flags().StringP("output-dir", "o", "", "Directory for collected output files")
	cmd.Flags().Duration("entry-timeout", 0, "Per-entry execution timeout (0 = wait forever)")
	cmd.Flags().String("log-level", "info", "Log level: debug | info | warn | error")
	_ = cmd.MarkFlagRequired("schedule")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	expr, _ := cmd.Flags().GetString("schedule")
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	if err := logging.Init(logging.Config{Level: resolveLogLevel(cmd)}); err != nil {
		return exitError(exitRuntime, "initialising logging: %v", err)
	}
	defer func() { _ = logging.Sync() }()
	logger := logging.Named("watch")

	stagingDir, _ := cmd.Flags().GetString("staging-dir")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	entryTimeout, _ := cmd.Flags().GetDuration("entry-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New()
	for {
		next := schedule.Next(time.Now().UTC())
		logger.Info("waiting for next run", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("watch stopped")
			return nil
		case <-timer.C:
		}

		// The manifest is reloaded every cycle so edits take effect
		// without restarting the watcher. Only an unreadable or
		// unparseable file skips a cycle; entry-level diagnostics are
		// logged and the run still attempts every entry.
		m, err := loadManifestForRun(args[0])
		if err != nil {
			logger.Error("manifest rejected, skipping cycle", "error", err)
			continue
		}
		for _, d := range m.Validate() {
			logger.Warn("manifest diagnostic",
				"code", d.Code,
				"severity", d.Severity,
				"path", d.Path,
				"message", d.Message,
			)
		}

		summary, err := eng.Run(ctx, m, engine.RunOptions{
			StagingDir:   stagingDir,
			OutputDir:    outputDir,
			EntryTimeout: entryTimeout,
			EventHandler: logging.EventLogger(logging.Audit()),
			Logger:       logger,
		})
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("watch stopped")
				return nil
			}
			logger.Error("run failed", "error", err)
			continue
		}
		logger.Info("run finished",
			"run_id", summary.RunID,
			"entries", summary.Entries,
			"failed", summary.Failed,
			"elapsed", summary.Elapsed,
		)
	}
}

// parseCronExpressionUTC parses a standard 5-field cron expression. Schedules
// are UTC-only; timezone prefixes are rejected so a fleet of agents fires at
// the same wall-clock instant regardless of host timezone.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
