package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver turns an ActionRef into an Invokable.
//
// Resolution order:
//  1. a direct action is returned unchanged;
//  2. an unqualified name bound to an invokable value in the execution
//     context resolves to that binding;
//  3. any other name is looked up in the registry.
//
// A miss at step 3 is permanent and never retried.
type Resolver struct {
	registry *Registry
}

// NewResolver wires a resolver to a registry. A nil registry behaves as empty.
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{registry: registry}
}

// Registry returns the backing registration table.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve resolves ref against execCtx.
func (r *Resolver) Resolve(ref ActionRef, execCtx ExecutionContext) (Invokable, error) {
	if ref.Action != nil {
		return Invokable{Name: ref.String(), Action: ref.Action, Mode: modeOf(ref.Action)}, nil
	}

	name := ref.Name
	if name == "" {
		return Invokable{}, fmt.Errorf("%w: action must be an invokable or a name", ErrUnresolvedAction)
	}

	if !strings.Contains(name, ".") {
		if bound, ok := execCtx[name]; ok {
			if action := asAction(bound); action != nil {
				return Invokable{Name: name, Action: action, Mode: modeOf(action)}, nil
			}
		}
	}

	if inv, ok := r.registry.Lookup(name); ok {
		return inv, nil
	}
	return Invokable{}, fmt.Errorf("%w: %s", ErrUnresolvedAction, name)
}

// ResolveTask resolves the task's action and checks its parameters against
// the registered schema, if any.
func (r *Resolver) ResolveTask(def TaskDefinition, execCtx ExecutionContext) (Invokable, error) {
	inv, err := r.Resolve(def.Action, execCtx)
	if err != nil {
		return Invokable{}, err
	}
	if def.Action.Action == nil {
		if err := r.registry.ValidateParameters(inv.Name, def.Parameters); err != nil {
			return Invokable{}, fmt.Errorf("%w: %w", ErrUnresolvedAction, err)
		}
	}
	return inv, nil
}

// Preflight resolves every task of wf against execCtx so that resolution
// errors surface before a run starts. Names that only appear in the context
// after an upstream task completes will be reported as unresolved.
func (r *Resolver) Preflight(wf *Workflow, execCtx ExecutionContext) error {
	var errs []error
	for _, def := range wf.Tasks() {
		if _, err := r.ResolveTask(def, execCtx); err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", def.Name, err))
		}
	}
	return errors.Join(errs...)
}

func asAction(v any) Action {
	switch fn := v.(type) {
	case Action:
		return fn
	case func(context.Context, map[string]any) (any, error):
		return ActionFunc(fn)
	default:
		return nil
	}
}
