// Package actions provides the built-in action library.
//
// Core actions (core.*) manipulate the execution context and are cheap enough
// to run inside a round directly. agent.prompt talks to an LLM provider
// through internal/backend and is dispatched on the blocking worker pool.
package actions

import (
	"fmt"
	"log/slog"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Deps are the collaborators the built-in actions need.
// Backends and Agents may be nil/empty, in which case agent.prompt fails at invocation.
type Deps struct {
	Backends *backend.Registry
	Agents   map[string]Agent
	Recorder Recorder // optional
	WorkDir  string
	Logger   *slog.Logger
}

// Register adds every built-in action to reg.
func Register(reg *scheduler.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	type entry struct {
		name   string
		action scheduler.Action
		opts   []scheduler.RegisterOption
	}

	agent := &promptAction{deps: deps}
	entries := []entry{
		{"core.set", scheduler.ActionFunc(setValues), []scheduler.RegisterOption{
			scheduler.WithDescription("Merge fixed values into the workflow context"),
			scheduler.WithSchema(setSchema),
		}},
		{"core.template", scheduler.ActionFunc(renderTemplate), []scheduler.RegisterOption{
			scheduler.WithDescription("Render a text/template against the workflow context"),
			scheduler.WithSchema(templateSchema),
		}},
		{"core.sleep", scheduler.ActionFunc(sleep), []scheduler.RegisterOption{
			scheduler.WithDescription("Wait for a duration or until cancelled"),
			scheduler.WithSchema(sleepSchema),
		}},
		{"core.fail", scheduler.ActionFunc(fail), []scheduler.RegisterOption{
			scheduler.WithDescription("Fail with a message"),
			scheduler.WithSchema(failSchema),
		}},
		{"agent.prompt", scheduler.ActionFunc(agent.invoke), []scheduler.RegisterOption{
			scheduler.WithBlocking(),
			scheduler.WithDescription("Send a rendered prompt to a configured agent"),
			scheduler.WithSchema(promptSchema),
		}},
	}

	for _, e := range entries {
		if err := reg.Register(e.name, e.action, e.opts...); err != nil {
			return fmt.Errorf("registering built-in actions: %w", err)
		}
	}
	return nil
}

// outputKey picks the context key an action's result is stored under:
// the "output" parameter, else the task name, else fallback.
func outputKey(args map[string]any, info scheduler.TaskInfo, ok bool, fallback string) string {
	if key, _ := args["output"].(string); key != "" {
		return key
	}
	if ok && info.Task != "" {
		return info.Task
	}
	return fallback
}
