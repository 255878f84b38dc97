package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Result holds the outcome of a finished command
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the command exited with status 0
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout and stderr joined, for error messages
func (r *Result) Output() string {
	return strings.TrimSpace(string(r.Stdout) + string(r.Stderr))
}

// Runner executes an argument vector on the host.
// A non-zero exit is reported through Result.ExitCode; the error is reserved
// for commands that could not be run at all.
type Runner interface {
	Run(ctx context.Context, argv []string) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes argv and waits for it to finish
func (r *ExecRunner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	logCommand(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := &Result{}
	err := cmd.Run()
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
		result.ExitCode = exitError.ExitCode()
	}
	logCommandResult(result)

	return result, nil
}

// logCommand logs the command being executed at debug verbosity
func logCommand(argv []string) {
	klog.V(1).Infof(" Executing command: %v", argv)
}

// logCommandResult logs the command result at debug verbosity
func logCommandResult(result *Result) {
	klog.V(1).Infof(" Exit code: %d", result.ExitCode)
	if len(result.Stdout) > 0 {
		klog.V(1).Infof(" stdout: %s", string(result.Stdout))
	}
	if len(result.Stderr) > 0 {
		klog.V(1).Infof(" stderr: %s", string(result.Stderr))
	}
}
