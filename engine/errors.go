package engine

import "errors"

// Entry-level error kinds. All of them are handled locally: the failing
// entry is reported and the run moves on.
var (
	// ErrExecTypeUnspecified marks an entry whose exec_type was omitted.
	ErrExecTypeUnspecified = errors.New("entry has no exec_type")

	// ErrPayloadNotFound wraps payload resolution failures for external
	// entries.
	ErrPayloadNotFound = errors.New("payload not found for external entry")

	// ErrStagingPathMissing marks an external entry run without a staging
	// directory.
	ErrStagingPathMissing = errors.New("no staging directory for external entry")

	// ErrSpawnFailed marks an executable that could not be launched.
	ErrSpawnFailed = errors.New("failed to spawn process")

	// ErrProcessWaitFailed marks an I/O error while awaiting completion.
	ErrProcessWaitFailed = errors.New("failed waiting for process")

	// ErrOutputWriteFailed marks a destination file that could not be
	// created or written.
	ErrOutputWriteFailed = errors.New("failed to write output file")

	// ErrCleanupFailed marks a staged file that could not be deleted. It is
	// strictly non-fatal and never flips an otherwise successful entry.
	ErrCleanupFailed = errors.New("failed to clean up staged file")
)
