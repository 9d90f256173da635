package logging

import (
	"log/slog"

	"github.com/petal-labs/talon/engine"
)

// EventLogger returns an event handler that writes the entry lifecycle to
// the given logger. Run-level events log at Info; entry and cleanup
// failures log at Warn so a collection transcript can be skimmed for
// trouble without raising the level.
func EventLogger(logger *slog.Logger) engine.EventHandler {
	if logger == nil {
		logger = L()
	}
	return func(e engine.Event) {
		attrs := []any{
			slog.String("run_id", e.RunID),
			slog.Uint64("seq", e.Seq),
		}
		if e.Section != "" {
			attrs = append(attrs, slog.String("section", e.Section))
		}
		if e.Entry != "" {
			attrs = append(attrs, slog.String("entry", e.Entry))
		}
		if e.Exec != "" {
			attrs = append(attrs, slog.String("exec", string(e.Exec)))
		}
		if e.PID != 0 {
			attrs = append(attrs, slog.Int("pid", e.PID))
		}
		if e.Elapsed > 0 {
			attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
		}
		for k, v := range e.Payload {
			attrs = append(attrs, slog.Any(k, v))
		}

		switch e.Kind {
		case engine.EventEntryFailed, engine.EventCleanupFailed:
			logger.Warn(e.Kind.String(), attrs...)
		default:
			logger.Info(e.Kind.String(), attrs...)
		}
	}
}
