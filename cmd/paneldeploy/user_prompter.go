// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// UserPrompter obtains explicit confirmation from the operator.
//
// Only the production confirmation gate uses this; everything else in
// the pipeline is unattended by design.
type UserPrompter interface {
	// Confirm asks a yes/no question and returns the answer.
	// Returns an error only if the prompt infrastructure fails or the
	// context is cancelled; a plain "no" is (false, nil).
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// isAttended reports whether the process is running with a terminal on
// stdin, i.e. an operator is present to answer prompts.
func isAttended() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// -----------------------------------------------------------------------------
// Interactive Implementation
// -----------------------------------------------------------------------------

// InteractivePrompter reads confirmation from an input stream.
type InteractivePrompter struct {
	in  io.Reader
	out io.Writer
}

// NewInteractivePrompter creates a prompter on stdin/stderr.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO creates a prompter with injected streams.
func NewInteractivePrompterWithIO(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{in: in, out: out}
}

// Confirm prints the prompt and waits for a y/yes answer. Empty input,
// "n", anything unrecognized, and EOF all mean no.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(p.in)
		line, err := reader.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, a.err
		}
		// EOF with no text is a "no", not an infrastructure failure.
		switch strings.ToLower(strings.TrimSpace(a.text)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// -----------------------------------------------------------------------------
// Non-Interactive Implementations
// -----------------------------------------------------------------------------

// NonInteractivePrompter rejects every confirmation. Used when the run
// is unattended but a gate would have required an answer.
type NonInteractivePrompter struct{}

// Confirm always returns false.
func (p *NonInteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return false, nil
}

// AutoApprovePrompter approves every confirmation. Used for --yes.
type AutoApprovePrompter struct{}

// Confirm always returns true.
func (p *AutoApprovePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	return true, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// MockPrompter is a configurable test double that records prompts.
type MockPrompter struct {
	mu      sync.Mutex
	prompts []string

	// Response is returned from Confirm.
	Response bool

	// Err, when set, is returned from Confirm.
	Err error
}

// Confirm records the prompt and returns the configured response.
func (m *MockPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.Response, m.Err
}

// Prompts returns a copy of every prompt seen.
func (m *MockPrompter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ UserPrompter = (*InteractivePrompter)(nil)
	_ UserPrompter = (*NonInteractivePrompter)(nil)
	_ UserPrompter = (*AutoApprovePrompter)(nil)
	_ UserPrompter = (*MockPrompter)(nil)
)
