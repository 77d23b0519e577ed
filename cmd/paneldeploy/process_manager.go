// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package main implements the paneldeploy command.

This file provides ProcessManager for abstracting external process
execution. All exec.Command calls in the deployment code go through this
interface to enable mocking in unit tests.

# Design Rationale

Direct calls to exec.Command are not testable because they execute real
processes. By abstracting process execution behind an interface, we can:
  - Mock process execution in tests
  - Capture and verify command invocations (including that secrets never
    appear in argument lists)
  - Simulate success/failure scenarios without real processes
*/
package main

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ProcessManager handles external process operations.
//
// # Description
//
// Abstracts all interaction with the operating system's process
// management. Commands are always specified as an executable name plus
// an argument array; there is no shell interpolation on the local side.
//
// # Exit Status
//
// A command that starts and exits non-zero is NOT an error at this
// layer: the exit code is returned explicitly and the caller decides.
// The error return is reserved for commands that could not run at all
// (binary missing, context cancelled).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProcessManager interface {
	// Run executes a command synchronously.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - string: Captured stdout
	//   - string: Captured stderr
	//   - int: Exit code (0 on success, -1 if the process never ran)
	//   - error: Non-nil only if the command could not be started
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// Same contract as Run. Used for feeding remote command scripts to
	// ssh without placing them on the command line.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) (stdout, stderr string, exitCode int, err error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
//
// This is the production implementation that executes real processes on
// the system. Use MockProcessManager in tests instead.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a ProcessManager that executes real
// processes using os/exec.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	return pm.run(ctx, name, nil, args)
}

// RunWithInput executes a command with data piped to stdin.
func (pm *DefaultProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) (string, string, int, error) {
	return pm.run(ctx, name, input, args)
}

func (pm *DefaultProcessManager) run(ctx context.Context, name string, input []byte, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Capture the run status into an explicit variable before any test:
	// exit codes must come from the command itself, never be inferred
	// from surrounding control flow.
	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, runErr
	}

	return stdout.String(), stderr.String(), 0, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// RecordedCall captures one process invocation for test assertions.
type RecordedCall struct {
	Name  string
	Args  []string
	Input []byte
}

// MockProcessManager implements ProcessManager with function fields and
// call recording. The zero value succeeds with empty output.
type MockProcessManager struct {
	mu    sync.Mutex
	calls []RecordedCall

	// RunFunc, when set, handles Run and RunWithInput invocations.
	RunFunc func(ctx context.Context, name string, input []byte, args ...string) (string, string, int, error)
}

// Run records the call and delegates to RunFunc.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	return m.RunWithInput(ctx, name, nil, args...)
}

// RunWithInput records the call and delegates to RunFunc.
func (m *MockProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) (string, string, int, error) {
	m.mu.Lock()
	inputCopy := make([]byte, len(input))
	copy(inputCopy, input)
	m.calls = append(m.calls, RecordedCall{Name: name, Args: args, Input: inputCopy})
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, input, args...)
	}
	return "", "", 0, nil
}

// Calls returns a copy of all recorded invocations.
func (m *MockProcessManager) Calls() []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
