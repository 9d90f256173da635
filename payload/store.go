// Package payload resolves logical tool names to executable payload bytes.
// Resolution is two-tier: a compiled-in table of well-known tools, then a
// fallback lookup into a resource region embedded in the running binary's
// own image. The fallback lets operators attach tools to a built agent
// without recompiling the table.
package payload

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound indicates a name unresolvable in both tiers. Underlying OS
// errors from the extractor are wrapped alongside it.
var ErrNotFound = errors.New("payload not found")

// Extractor is the platform capability for pulling a named resource out of
// the running executable's image.
type Extractor interface {
	Extract(name string) ([]byte, error)
}

// Store resolves tool names to payload bytes.
type Store struct {
	mu        sync.RWMutex
	builtin   map[string][]byte
	extractor Extractor
}

// NewStore creates a payload store with the given fallback extractor.
// A nil extractor disables the second tier.
func NewStore(extractor Extractor) *Store {
	return &Store{
		builtin:   make(map[string][]byte),
		extractor: extractor,
	}
}

// Register adds a compiled-in payload. Later registrations for the same name
// win, so a packaging step can override defaults.
func (s *Store) Register(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtin[name] = data
}

// Names returns the registered compiled-in tool names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.builtin))
	for name := range s.builtin {
		names = append(names, name)
	}
	return names
}

// Resolve returns the payload bytes for name. The compiled-in table is
// consulted first; on miss, the extractor. Extractor failures surface as
// ErrNotFound with the cause preserved.
func (s *Store) Resolve(name string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.builtin[name]
	extractor := s.extractor
	s.mu.RUnlock()

	if ok {
		return data, nil
	}

	if extractor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	data, err := extractor.Extract(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: resource is empty", ErrNotFound, name)
	}
	return data, nil
}

var (
	defaultStore     *Store
	defaultStoreOnce sync.Once
)

// Default returns the process-wide store, backed by the running executable's
// resource region.
func Default() *Store {
	defaultStoreOnce.Do(func() {
		defaultStore = NewStore(&ExeExtractor{})
	})
	return defaultStore
}

// Register adds a compiled-in payload to the process-wide store. Build-time
// packaging calls this from generated init functions.
func Register(name string, data []byte) {
	Default().Register(name, data)
}
