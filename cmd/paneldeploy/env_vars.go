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
	"fmt"
	"regexp"
	"sort"
)

// envVarKeyPattern validates environment variable key names.
// Keys must:
//   - Start with a letter or underscore
//   - Contain only alphanumeric characters and underscores
//   - Not be empty
//
// This follows POSIX naming conventions and prevents shell metacharacter
// injection attacks.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// EnvVar represents a single environment variable destined for the
// registered application's runtime environment.
//
// # Description
//
// A typed representation of an environment variable with validation
// and sensitivity marking for secure logging.
//
// # Example
//
//	ev := EnvVar{Key: "GITHUB_TOKEN", Value: "ghp_abc", Sensitive: true}
//	fmt.Println(ev.Redacted()) // GITHUB_TOKEN=[REDACTED]
//
// # Limitations
//
//   - Value is not validated (can be empty or contain any characters)
type EnvVar struct {
	// Key is the environment variable name.
	// Must match pattern: ^[a-zA-Z_][a-zA-Z0-9_]*$
	Key string

	// Value is the environment variable value.
	// May be empty string (valid in POSIX).
	Value string

	// Sensitive indicates this value should be redacted in logs.
	Sensitive bool
}

// String returns the KEY=VALUE format.
func (e EnvVar) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Redacted returns KEY=[REDACTED] for sensitive vars, otherwise String().
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return fmt.Sprintf("%s=[REDACTED]", e.Key)
	}
	return e.String()
}

// Validate checks if the key is valid.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// EnvVars is a validated collection of environment variables.
//
// # Description
//
// Type-safe container for the environment payload handed to the
// application registrar. Provides validation, deterministic ordering,
// and redaction. Replaces raw map[string]string so that sensitive
// values cannot accidentally reach a log sink.
//
// # Thread Safety
//
// EnvVars is NOT thread-safe. Do not modify concurrently.
type EnvVars struct {
	vars []EnvVar
}

// NewEnvVars creates a validated EnvVars collection. Returns an error if
// any key is invalid. Duplicate keys are allowed (last wins downstream).
func NewEnvVars(vars ...EnvVar) (*EnvVars, error) {
	for _, v := range vars {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &EnvVars{vars: vars}, nil
}

// EmptyEnvVars returns an empty EnvVars.
func EmptyEnvVars() *EnvVars {
	return &EnvVars{vars: []EnvVar{}}
}

// Add appends a validated environment variable.
func (e *EnvVars) Add(key, value string, sensitive bool) error {
	ev := EnvVar{Key: key, Value: value, Sensitive: sensitive}
	if err := ev.Validate(); err != nil {
		return err
	}
	e.vars = append(e.vars, ev)
	return nil
}

// MustAdd adds a variable or panics. Use only for fixed keys.
func (e *EnvVars) MustAdd(key, value string, sensitive bool) {
	if err := e.Add(key, value, sensitive); err != nil {
		panic(err)
	}
}

// Len returns the number of variables.
func (e *EnvVars) Len() int {
	return len(e.vars)
}

// Sorted returns the variables ordered by key. The registrar depends on
// this for a stable (name, value) pair encoding across runs.
func (e *EnvVars) Sorted() []EnvVar {
	out := make([]EnvVar, len(e.vars))
	copy(out, e.vars)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RedactedSlice returns every variable in KEY=VALUE form with sensitive
// values replaced. Safe for logging.
func (e *EnvVars) RedactedSlice() []string {
	out := make([]string, 0, len(e.vars))
	for _, v := range e.Sorted() {
		out = append(out, v.Redacted())
	}
	return out
}

// HasSensitive reports whether any variable is marked sensitive. Callers
// use this to decide whether command output must be suppressed.
func (e *EnvVars) HasSensitive() bool {
	for _, v := range e.vars {
		if v.Sensitive {
			return true
		}
	}
	return false
}
