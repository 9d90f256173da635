package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// processResult captures the outcome of one supervised subprocess.
type processResult struct {
	// PID of the spawned process.
	PID int

	// ExitCode is -1 when the process was killed by a signal or its status
	// is otherwise unknown. Never treated as fatal by itself.
	ExitCode int

	// Stdout holds the captured standard output, verbatim.
	Stdout []byte

	// Stderr holds the captured standard error. Logged, not persisted.
	Stderr []byte
}

// runProcess spawns path with args, waits for termination, and captures
// both output streams. A non-zero exit is not an error; only spawn and wait
// failures are.
func runProcess(ctx context.Context, path string, args []string) (*processResult, error) {
	cmd := exec.CommandContext(ctx, path, args...) // #nosec G204 -- executable and args come from the manifest
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	res := &processResult{PID: cmd.Process.Pid, ExitCode: -1}

	err := cmd.Wait()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("%w: %v", ErrProcessWaitFailed, err)
		}
		// Non-zero exit or signal death; ExitCode() reports -1 for the
		// latter, which is exactly the "unknown" sentinel we log.
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The signal death came from us, not the tool.
		return res, fmt.Errorf("%w: %v", ErrProcessWaitFailed, ctxErr)
	}

	return res, nil
}

// writeOutput writes captured bytes to outputPath, fully replacing prior
// content and flushing before return. Parent directories are created as
// needed.
func writeOutput(outputPath string, data []byte) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
		}
	}

	f, err := os.Create(outputPath) // #nosec G304 -- output path from the manifest
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWriteFailed, err)
	}
	return nil
}
