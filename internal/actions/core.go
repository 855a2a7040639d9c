package actions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"text/template"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// ErrRequestedFailure is wrapped by core.fail.
var ErrRequestedFailure = errors.New("requested failure")

const setSchema = `{
  "type": "object",
  "properties": {
    "values": {"type": "object"}
  },
  "required": ["values"]
}`

// setValues returns its "values" parameter so the engine merges it into the context.
func setValues(_ context.Context, args map[string]any) (any, error) {
	values, ok := args["values"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("values must be a mapping, got %T", args["values"])
	}
	return maps.Clone(values), nil
}

const templateSchema = `{
  "type": "object",
  "properties": {
    "template": {"type": "string"},
    "output": {"type": "string", "minLength": 1}
  },
  "required": ["template"]
}`

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return strings.Join(parts, sep)
	},
}

// renderTemplate renders "template" with the invocation args as data.
// Referencing a missing key is an error.
func renderTemplate(ctx context.Context, args map[string]any) (any, error) {
	text, _ := args["template"].(string)
	rendered, err := render("template", text, args)
	if err != nil {
		return nil, err
	}

	info, ok := scheduler.TaskInfoFrom(ctx)
	return map[string]any{outputKey(args, info, ok, "text"): rendered}, nil
}

func render(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return sb.String(), nil
}

const sleepSchema = `{
  "type": "object",
  "properties": {
    "duration": {"type": "string"}
  },
  "required": ["duration"]
}`

// sleep waits for "duration" or until ctx is done.
func sleep(ctx context.Context, args map[string]any) (any, error) {
	raw, _ := args["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const failSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string"}
  }
}`

func fail(_ context.Context, args map[string]any) (any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		return nil, ErrRequestedFailure
	}
	return nil, fmt.Errorf("%w: %s", ErrRequestedFailure, msg)
}
