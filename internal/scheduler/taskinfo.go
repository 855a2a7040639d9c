package scheduler

import "context"

// TaskInfo identifies the task an action is running for.
type TaskInfo struct {
	RunID    string
	Workflow string
	Task     string
	Round    int
}

type taskInfoKey struct{}

// WithTaskInfo returns a copy of ctx carrying info.
func WithTaskInfo(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, info)
}

// TaskInfoFrom returns the TaskInfo set by the engine for the current invocation.
func TaskInfoFrom(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return info, ok
}
