package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// CommandError is returned when a provider CLI exits unsuccessfully.
type CommandError struct {
	Name   string
	Stderr string // trimmed
	Err    error  // *exec.ExitError, possibly wrapped with the context error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s failed: %v (stderr: %s)", e.Name, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// newCommand builds a command that runs in its own process group, so that
// cancelling ctx takes down everything the provider CLI spawned.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	// grandchildren holding the pipes open must not stall Wait forever
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// executeCommand runs cmd to completion and returns everything it wrote.
// Both pipes are drained before Wait; a child filling one pipe buffer while
// nobody reads it would otherwise block forever. When pm is non-nil the
// process is tracked for the time it is alive.
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) ([]byte, []byte, error) {
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var stdout, stderr bytes.Buffer
	var drain errgroup.Group
	drain.Go(func() error { _, err := io.Copy(&stdout, outPipe); return err })
	drain.Go(func() error { _, err := io.Copy(&stderr, errPipe); return err })
	// read errors only mean the pipe closed early; Wait reports the cause
	_ = drain.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return stdout.Bytes(), stderr.Bytes(), &CommandError{
			Name:   cmd.Path,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// killProcessGroup sends SIGKILL to the command's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager tracks live provider subprocesses by pid so a shutdown can
// kill them without waiting for their tasks to notice cancellation.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command. Unstarted commands are ignored.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd.Process.Pid] = cmd
	pm.mu.Unlock()
}

// Untrack forgets a command once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.procs, cmd.Process.Pid)
	pm.mu.Unlock()
}

// KillAll kills the process group of every tracked command. Commands stay
// tracked until their executeCommand call returns.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked commands.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
