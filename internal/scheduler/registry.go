package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry is an explicit name -> action table, built before workflows run.
// Names are usually dotted ("core.set", "agent.prompt") but need not be.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
}

type registration struct {
	name        string
	description string
	action      Action
	mode        Mode
	schema      *gojsonschema.Schema
	schemaText  string
}

// ActionInfo describes a registered action.
type ActionInfo struct {
	Name        string
	Description string
	Mode        Mode
	Schema      string
}

// RegisterOption customizes a registration.
type RegisterOption func(*registration) error

// WithBlocking routes the action through the engine's blocking worker pool.
func WithBlocking() RegisterOption {
	return func(r *registration) error {
		r.mode = ModeBlocking
		return nil
	}
}

// WithDescription attaches a human-readable summary.
func WithDescription(desc string) RegisterOption {
	return func(r *registration) error {
		r.description = desc
		return nil
	}
}

// WithSchema attaches a JSON schema that task parameters must satisfy.
func WithSchema(schema string) RegisterOption {
	return func(r *registration) error {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid parameter schema: %w", err)
		}
		r.schema = compiled
		r.schemaText = schema
		return nil
	}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registration),
	}
}

// Register adds an action under name. Returns error if the name is taken.
func (r *Registry) Register(name string, action Action, opts ...RegisterOption) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("action name is required")
	}
	if action == nil {
		return fmt.Errorf("action %q: nil action", name)
	}

	reg := &registration{
		name:   name,
		action: action,
		mode:   modeOf(action),
	}
	for _, opt := range opts {
		if err := opt(reg); err != nil {
			return fmt.Errorf("action %q: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.entries[name] = reg
	return nil
}

// MustRegister is Register that panics on error. Intended for static tables.
func (r *Registry) MustRegister(name string, action Action, opts ...RegisterOption) {
	if err := r.Register(name, action, opts...); err != nil {
		panic(err)
	}
}

// Lookup returns the invokable registered under name.
func (r *Registry) Lookup(name string) (Invokable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return Invokable{}, false
	}
	return Invokable{Name: reg.name, Action: reg.action, Mode: reg.mode}, true
}

// ValidateParameters checks params against the schema registered for name.
// Actions without a schema accept anything.
func (r *Registry) ValidateParameters(name string, params map[string]any) error {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok || reg.schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := reg.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("validating parameters for %q: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid parameters for %q: %s", name, strings.Join(msgs, "; "))
}

// Actions lists registrations sorted by name.
func (r *Registry) Actions() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.entries))
	for _, reg := range r.entries {
		infos = append(infos, ActionInfo{
			Name:        reg.name,
			Description: reg.description,
			Mode:        reg.mode,
			Schema:      reg.schemaText,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
