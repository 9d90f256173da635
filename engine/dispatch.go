package engine

import (
	"context"
	"fmt"

	"github.com/petal-labs/talon/manifest"
	"github.com/petal-labs/talon/payload"
)

// entryRequest is everything one strategy needs to execute an entry.
type entryRequest struct {
	Entry      manifest.Entry
	StagingDir string
	OutputPath string
}

// entryReport is what a strategy hands back to the scheduler for event
// emission. CleanupErr is advisory: it never changes the entry's outcome.
type entryReport struct {
	// DisplayName is the staged file name for external entries, the
	// literal entry name otherwise.
	DisplayName string
	PID         int
	// ExitCode is -1 when no process ran or its status is unknown.
	ExitCode   int
	Stderr     []byte
	CleanupErr error
}

// strategy executes one entry according to its exec_type.
type strategy interface {
	run(ctx context.Context, req entryRequest) (entryReport, error)
}

// strategyFor selects the execution strategy for an exec_type tag.
func (e *Engine) strategyFor(t manifest.ExecType) (strategy, error) {
	switch t {
	case manifest.ExecExternal:
		return &externalStrategy{payloads: e.payloads}, nil
	case manifest.ExecSystem:
		return &systemStrategy{}, nil
	case manifest.ExecInternal:
		return &internalStrategy{collectors: e.collectors}, nil
	case manifest.ExecUnspecified:
		return nil, ErrExecTypeUnspecified
	default:
		return nil, fmt.Errorf("unsupported exec_type %q", t)
	}
}

// externalStrategy resolves an embedded payload, stages it to disk, spawns
// it, and always attempts to delete the staged file afterwards.
type externalStrategy struct {
	payloads *payload.Store
}

// run uses named results so the deferred cleanup can record its error on
// the report the caller actually receives.
func (s *externalStrategy) run(ctx context.Context, req entryRequest) (report entryReport, err error) {
	report = entryReport{DisplayName: req.Entry.Name, ExitCode: -1}

	// Both preconditions are checked before anything touches disk, so a
	// failing entry has no side effects.
	data, err := s.payloads.Resolve(req.Entry.Name)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPayloadNotFound, err)
	}
	if req.StagingDir == "" {
		return report, ErrStagingPathMissing
	}

	staged, err := stagePayload(req.StagingDir, req.Entry.Name, data)
	if err != nil {
		return report, err
	}
	// From here on the staged file exists; deletion runs on every exit
	// path, whatever happens to spawn, wait, or output write.
	defer func() {
		report.CleanupErr = staged.Remove()
	}()

	report.DisplayName = staged.DisplayName()

	res, err := runProcess(ctx, staged.Path(), req.Entry.Args)
	if res != nil {
		report.PID = res.PID
		report.ExitCode = res.ExitCode
		report.Stderr = res.Stderr
	}
	if err != nil {
		return report, err
	}

	if err := writeOutput(req.OutputPath, res.Stdout); err != nil {
		return report, err
	}
	return report, nil
}

// systemStrategy spawns an already-installed executable resolved through
// the host's search path. Nothing is staged, nothing is cleaned up.
type systemStrategy struct{}

func (s *systemStrategy) run(ctx context.Context, req entryRequest) (entryReport, error) {
	report := entryReport{DisplayName: req.Entry.Name, ExitCode: -1}

	res, err := runProcess(ctx, req.Entry.Name, req.Entry.Args)
	if res != nil {
		report.PID = res.PID
		report.ExitCode = res.ExitCode
		report.Stderr = res.Stderr
	}
	if err != nil {
		return report, err
	}

	if err := writeOutput(req.OutputPath, res.Stdout); err != nil {
		return report, err
	}
	return report, nil
}

// internalStrategy invokes a builtin collector in-process. No subprocess
// is created.
type internalStrategy struct {
	collectors CollectorRegistry
}

func (s *internalStrategy) run(ctx context.Context, req entryRequest) (entryReport, error) {
	report := entryReport{DisplayName: req.Entry.Name, ExitCode: -1}
	if err := s.collectors.Invoke(ctx, req.Entry.Name, req.OutputPath); err != nil {
		return report, err
	}
	return report, nil
}
