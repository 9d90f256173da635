// Package collect provides the builtin in-process collectors: a fixed,
// closed set of routines that write their findings straight to an output
// path without spawning a subprocess.
package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petal-labs/talon/manifest"
)

// ErrUnknownCollector indicates an internal entry named a collector that is
// not registered. No output file is created in that case.
var ErrUnknownCollector = errors.New("unknown builtin collector")

// Func is one builtin collection routine. It writes its findings to
// outputPath and returns without spawning a subprocess.
type Func func(ctx context.Context, outputPath string) error

// Def describes a registered collector.
type Def struct {
	Name        string
	Description string
	run         Func
}

// Registry holds the builtin collectors.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Def
	order []string
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry, registering the builtin set on
// first use.
func Global() *Registry {
	globalOnce.Do(func() {
		global = &Registry{defs: make(map[string]Def)}
		registerBuiltins(global)
	})
	return global
}

// Register adds a collector definition. Registering an existing name
// overwrites it.
func (r *Registry) Register(name, description string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; !exists {
		r.order = append(r.order, name)
	}
	r.defs[name] = Def{Name: name, Description: description, run: fn}
}

// Has reports whether name is a registered collector.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// All returns collector definitions in registration order.
func (r *Registry) All() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Def, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Invoke runs the named collector. Unrecognized names yield
// ErrUnknownCollector without touching the filesystem.
func (r *Registry) Invoke(ctx context.Context, name, outputPath string) error {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, name)
	}
	return def.run(ctx, outputPath)
}

// Invoke runs a collector from the global registry.
func Invoke(ctx context.Context, name, outputPath string) error {
	return Global().Invoke(ctx, name, outputPath)
}

// registerBuiltins wires the closed builtin set. The implementations live in
// platform files; unsupported platforms report an error at invoke time.
func registerBuiltins(r *Registry) {
	r.Register("ProcInfo", "running process listing", collectProcesses)
	r.Register("ProcDetailsInfo", "per-process detail enumeration", collectProcessDetails)
	r.Register("PortsInfo", "open network port enumeration", collectPorts)
}

func init() {
	// Let manifest validation flag internal entries that name a collector
	// the engine will never find.
	manifest.KnownCollector = func(name string) bool {
		return Global().Has(name)
	}
}
