// Package talon is a manifest-driven host triage collector: it executes the
// prioritized sections of a collection manifest, staging embedded tools,
// spawning installed ones, or invoking builtin collectors, and captures
// their output as forensic artifacts.
//
// This file re-exports the types most callers need so simple embedders can
// depend on a single import. For finer control, import the subpackages
// directly:
//
//	import "github.com/petal-labs/talon/manifest"
//	import "github.com/petal-labs/talon/engine"
//	import "github.com/petal-labs/talon/bus"
package talon

import (
	"context"

	"github.com/petal-labs/talon/engine"
	"github.com/petal-labs/talon/manifest"
)

// Re-exported manifest types.
type (
	Manifest = manifest.Manifest
	Section  = manifest.Section
	Entry    = manifest.Entry
)

// Re-exported engine types.
type (
	RunOptions = engine.RunOptions
	Summary    = engine.Summary
	Event      = engine.Event
	EventKind  = engine.EventKind
)

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	return manifest.Load(path)
}

// Run executes a manifest with the default payload store and collector
// registry.
func Run(ctx context.Context, m *Manifest, opts RunOptions) (Summary, error) {
	return engine.New().Run(ctx, m, opts)
}
