package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// stagedFile is a scoped guard around a payload written to disk for one
// entry's execution. Remove is called on every exit path once the file
// exists; its lifetime never spans entries.
type stagedFile struct {
	path string
}

// stagePayload writes data to <dir>/<name>, creating or truncating the
// file. The file is made executable since it is about to be spawned.
func stagePayload(dir, name string, data []byte) (*stagedFile, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o700); err != nil { // #nosec G306 -- staged tool must be executable
		return nil, fmt.Errorf("staging %s: %w", path, err)
	}
	return &stagedFile{path: path}, nil
}

// Path returns the on-disk location of the staged payload.
func (s *stagedFile) Path() string {
	return s.path
}

// DisplayName returns the staged file's base name, used for logging in
// place of the logical tool name.
func (s *stagedFile) DisplayName() string {
	return filepath.Base(s.path)
}

// Remove deletes the staged file if it still exists. Callers treat a
// failure here as diagnostic only, never as the entry's outcome.
func (s *stagedFile) Remove() error {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: stat %s: %v", ErrCleanupFailed, s.path, err)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrCleanupFailed, err)
	}
	return nil
}
