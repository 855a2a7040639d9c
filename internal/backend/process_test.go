package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestExecuteCommand_BasicExecution verifies basic command execution
func TestExecuteCommand_BasicExecution(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "echo", "hello")

	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", stderr)
	}
}

// TestExecuteCommand_ConcurrentPipeReading_LargeOutput verifies no deadlock when
// both streams exceed the pipe buffer.
func TestExecuteCommand_ConcurrentPipeReading_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 256KB on each stream, well above the 64KB pipe buffer
	cmd := newCommand(ctx, "bash", "-c", `head -c 262144 /dev/zero | tr '\0' 'e' >&2; yes line | head -n 20000`)

	start := time.Now()
	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Expected no error, got: %v (took %v)", err, duration)
	}
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) != 20000 {
		t.Errorf("Expected 20000 lines of output, got %d", len(lines))
	}
	if len(stderr) != 262144 {
		t.Errorf("Expected 262144 bytes of stderr, got %d", len(stderr))
	}
}

// TestExecuteCommand_StderrCapture verifies both stdout and stderr are captured
func TestExecuteCommand_StderrCapture(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", "-c", "echo error >&2; echo ok")

	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "ok") {
		t.Errorf("Expected stdout to contain 'ok', got: %s", stdout)
	}
	if !strings.Contains(string(stderr), "error") {
		t.Errorf("Expected stderr to contain 'error', got: %s", stderr)
	}
}

// TestExecuteCommand_ContextCancellation verifies subprocess termination on context cancel
func TestExecuteCommand_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	pm := NewProcessManager()
	cmd := newCommand(ctx, "bash", "-c", "sleep 30 & wait")

	start := time.Now()
	_, _, err := executeCommand(ctx, cmd, pm)
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected error to wrap context.DeadlineExceeded, got: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation took %v; the process group was not killed", time.Since(start))
	}
	if pm.Count() != 0 {
		t.Errorf("Expected process to be untracked, %d still tracked", pm.Count())
	}
}

// TestExecuteCommand_TracksWhileRunning verifies the ProcessManager sees the live process.
func TestExecuteCommand_TracksWhileRunning(t *testing.T) {
	pm := NewProcessManager()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(ctx, newCommand(ctx, "sleep", "0.3"), pm)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Errorf("Expected 1 tracked process while running, got %d", pm.Count())
	}

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after exit, got %d", pm.Count())
	}
}

// TestProcessManager_TrackAndKillAll verifies ProcessManager tracks and terminates processes
func TestProcessManager_TrackAndKillAll(t *testing.T) {
	pm := NewProcessManager()

	cmd := newCommand(context.Background(), "sleep", "300")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}

	pm.Track(cmd)
	if pm.Count() != 1 {
		t.Errorf("Expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll returned %v", err)
	}

	err := cmd.Wait()
	if err == nil {
		t.Error("Expected process to be killed (non-nil error), got nil")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			t.Errorf("Expected process to be signaled, got exit status: %v", status)
		}
	}

	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", pm.Count())
	}
}

// TestProcessManager_KillsProcessTree verifies process group signal propagation
func TestProcessManager_KillsProcessTree(t *testing.T) {
	pm := NewProcessManager()

	cmd := newCommand(context.Background(), "bash", "-c", "sleep 30 & sleep 30 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	parentPID := cmd.Process.Pid
	pm.Track(cmd)

	// Wait a moment for children to spawn
	time.Sleep(200 * time.Millisecond)

	pm.KillAll()
	cmd.Wait()
	pm.Untrack(cmd)
	time.Sleep(100 * time.Millisecond) // let init reap the orphans

	// pgrep exits 1 when nothing matches, which is what we want
	checkCmd := exec.Command("pgrep", "-g", fmt.Sprintf("%d", parentPID))
	output, err := checkCmd.CombinedOutput()
	if err == nil && len(bytes.TrimSpace(output)) > 0 {
		t.Errorf("Processes still running in group %d after KillAll: %s", parentPID, output)
	}
}

// TestExecuteCommand_NonZeroExitCode verifies error handling and output capture on failure
func TestExecuteCommand_NonZeroExitCode(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", "-c", "echo test-output; exit 1")

	stdout, _, err := executeCommand(ctx, cmd, nil)
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}
	if !strings.Contains(string(stdout), "test-output") {
		t.Errorf("Expected stdout to be captured despite error, got: %s", stdout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitCode := exitErr.ExitCode(); exitCode != 1 {
			t.Errorf("Expected exit code 1, got %d", exitCode)
		}
	} else {
		t.Errorf("Expected error to wrap *exec.ExitError, got %T: %v", err, err)
	}
}

func TestExecuteCommand_CommandError(t *testing.T) {
	cmd := newCommand(context.Background(), "bash", "-c", "echo '  quota exceeded ' >&2; exit 2")

	_, _, err := executeCommand(context.Background(), cmd, nil)

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.Stderr != "quota exceeded" {
		t.Errorf("expected trimmed stderr, got %q", cmdErr.Stderr)
	}
	if !strings.Contains(err.Error(), "(stderr: quota exceeded)") {
		t.Errorf("expected stderr in message, got %q", err.Error())
	}
}
