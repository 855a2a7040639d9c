package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBackend is returned by Registry.New for unregistered types.
var ErrUnknownBackend = errors.New("unknown backend type")

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send sends a message to the backend and returns the response.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases the backend. Safe to call more than once.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// Factory builds a backend for one conversation.
type Factory func(cfg Config, pm *ProcessManager) (Backend, error)

// Registry maps backend types to factories. Adapters are registered
// explicitly; there is no package-level default registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	pm        *ProcessManager
}

// NewRegistry creates a registry with the built-in "claude" and "command" adapters.
// Subprocesses started by its backends are tracked in pm, which may be nil.
func NewRegistry(pm *ProcessManager) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		pm:        pm,
	}
	r.factories["claude"] = func(cfg Config, pm *ProcessManager) (Backend, error) {
		return NewClaudeAdapter(cfg, pm)
	}
	r.factories["command"] = func(cfg Config, pm *ProcessManager) (Backend, error) {
		return NewCommandAdapter(cfg, pm)
	}
	return r
}

// Register adds a factory under typ. Registering a type twice is an error.
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" {
		return fmt.Errorf("backend type cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("backend %q: nil factory", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("backend %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// New creates a backend for cfg.Type.
func (r *Registry) New(cfg Config) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
	return f(cfg, r.pm)
}

// Types returns the registered backend types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
