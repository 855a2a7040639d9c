package scheduler

import (
	"context"
	"maps"
)

// ExecutionContext is the shared mapping visible to every task invocation.
type ExecutionContext map[string]any

// Clone returns a shallow copy.
func (c ExecutionContext) Clone() ExecutionContext {
	out := make(ExecutionContext, len(c))
	maps.Copy(out, c)
	return out
}

// Merge copies every key of values into c, overwriting existing keys.
func (c ExecutionContext) Merge(values map[string]any) {
	maps.Copy(c, values)
}

// Action is an invokable unit of work. args is the union of the execution
// context and the task parameters.
type Action interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke calls f.
func (f ActionFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Mode tags how the engine dispatches an action.
type Mode int

const (
	// ModeConcurrent actions run directly in the round's goroutine.
	ModeConcurrent Mode = iota
	// ModeBlocking actions are handed to the bounded worker pool.
	ModeBlocking
)

func (m Mode) String() string {
	if m == ModeBlocking {
		return "blocking"
	}
	return "concurrent"
}

// BlockingAction is implemented by actions that declare their own dispatch mode.
type BlockingAction interface {
	Action
	Blocking() bool
}

type blockingAction struct {
	Action
}

func (blockingAction) Blocking() bool { return true }

// Blocking tags a as a blocking action.
func Blocking(a Action) Action {
	return blockingAction{Action: a}
}

func modeOf(a Action) Mode {
	if b, ok := a.(BlockingAction); ok && b.Blocking() {
		return ModeBlocking
	}
	return ModeConcurrent
}

// ActionRef points at the work a task performs: either a direct Action or a
// name resolved lazily against the execution context and the registry.
type ActionRef struct {
	Name   string
	Action Action
}

// Ref builds a by-name reference.
func Ref(name string) ActionRef {
	return ActionRef{Name: name}
}

// Direct builds a reference to an already invokable action.
func Direct(a Action) ActionRef {
	return ActionRef{Action: a}
}

// DirectFunc is shorthand for Direct(ActionFunc(f)).
func DirectFunc(f func(ctx context.Context, args map[string]any) (any, error)) ActionRef {
	return Direct(ActionFunc(f))
}

// String names the reference for logs and reports.
func (r ActionRef) String() string {
	switch {
	case r.Action != nil:
		return "<direct>"
	case r.Name != "":
		return r.Name
	default:
		return "<empty>"
	}
}

// Invokable is a resolved action ready to be called.
type Invokable struct {
	Name   string
	Action Action
	Mode   Mode
}
