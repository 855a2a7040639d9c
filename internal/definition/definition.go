// Package definition loads workflow definition files and builds them into
// scheduler workflows.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskflow/internal/scheduler"
)

// File is a workflow definition as written on disk.
//
//	name: release-notes
//	context:
//	  repo: taskflow
//	tasks:
//	  - name: draft
//	    action: agent.prompt
//	    parameters: {agent: writer, prompt: "Draft notes for {{ .repo }}"}
//	    retry_count: 2
//	    timeout: 2m
//	  - name: review
//	    action: agent.prompt
//	    depends_on: [draft]
//	    parameters: {agent: reviewer, prompt: "{{ .draft }}"}
type File struct {
	Name        string         `yaml:"name" validate:"required"`
	Description string         `yaml:"description,omitempty"`
	Context     map[string]any `yaml:"context,omitempty"` // seeds the execution context
	Tasks       []Task         `yaml:"tasks" validate:"required,min=1,dive"`
}

// Task is one task entry of a File.
type Task struct {
	Name       string         `yaml:"name" validate:"required"`
	Action     string         `yaml:"action" validate:"required"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty" validate:"dive,required"`
	RetryCount int            `yaml:"retry_count,omitempty" validate:"gte=0"`
	Timeout    string         `yaml:"timeout,omitempty"`
	Exclusive  []string       `yaml:"exclusive,omitempty" validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes a definition from YAML (or JSON) bytes and validates its fields.
// Unknown keys are rejected so typos like "depends-on" don't silently vanish.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("definition payload is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses a definition file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks field constraints, unique task names and timeouts.
// Dependency structure is checked by Workflow.Validate after Build.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q check", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid definition: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid definition: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("task %q: %w", t.Name, scheduler.ErrDuplicateTask))
		}
		seen[t.Name] = true
		if _, err := t.timeout(); err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", t.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid definition: %w", errors.Join(errs...))
	}
	return nil
}

func (t Task) timeout() (time.Duration, error) {
	if t.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", t.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", t.Timeout)
	}
	return d, nil
}

// Build creates a scheduler workflow with every task referencing its action by name.
// Dependencies on undefined tasks are kept; such tasks never become ready.
func (f *File) Build() (*scheduler.Workflow, error) {
	wf := scheduler.NewWorkflow(f.Name, f.Description)
	for _, t := range f.Tasks {
		timeout, err := t.timeout()
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		if err := wf.AddTask(scheduler.TaskDefinition{
			Name:       t.Name,
			Action:     scheduler.Ref(t.Action),
			Parameters: t.Parameters,
			DependsOn:  t.DependsOn,
			RetryCount: t.RetryCount,
			Timeout:    timeout,
			Exclusive:  t.Exclusive,
		}); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

// InitialContext returns a copy of the definition's context block.
func (f *File) InitialContext() scheduler.ExecutionContext {
	return scheduler.ExecutionContext(f.Context).Clone()
}
