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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// ErrSecretNotAcquired is returned when a secret is requested that the
// guard does not hold.
var ErrSecretNotAcquired = errors.New("secret not acquired")

// ErrGuardReleased is returned when secrets are requested after Release.
var ErrGuardReleased = errors.New("secrets already released")

// SecretGuard owns every secret for the duration of one run.
//
// # Description
//
// Acquire moves secret values out of plain process memory into memguard
// enclaves (encrypted, mlocked, canary-guarded). Release overwrites the
// originating environment bindings with empty values and purges the
// enclaves; it runs on every exit path: normal completion (defer),
// SIGINT, and SIGTERM. No other component retains a secret longer than
// the call in which it is used: access goes through Use, which opens
// the enclave, hands the value to a closure, and wipes the plaintext
// buffer before returning.
//
// # Known Limitation
//
// Secrets handed to the administrative API travel as remote process
// invocation parameters, where they are transiently visible to other
// processes on the remote host. The window is minimized (execute
// immediately, discard) and the call's own output is suppressed by the
// UAPI client.
//
// # Thread Safety
//
// Safe for concurrent use; all state is mutex-protected.
type SecretGuard struct {
	mu       sync.Mutex
	enclaves map[string]*memguard.Enclave
	names    []string
	released bool
	log      *logging.Logger
}

// NewSecretGuard creates an empty guard.
func NewSecretGuard(log *logging.Logger) *SecretGuard {
	return &SecretGuard{
		enclaves: make(map[string]*memguard.Enclave),
		log:      log,
	}
}

// Acquire seals the named environment variables into enclaves.
//
// Fails if any named variable is empty; validation should have caught
// that already, so this is a belt check. The environment copies remain
// until Release overwrites them.
func (g *SecretGuard) Acquire(names []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return ErrGuardReleased
	}

	for _, name := range names {
		value := os.Getenv(name)
		if value == "" {
			return fmt.Errorf("%w: %s", ErrSecretNotAcquired, name)
		}
		g.enclaves[name] = memguard.NewEnclave([]byte(value))
		g.names = append(g.names, name)
	}

	g.log.Debug("secrets acquired", "count", len(names))
	return nil
}

// Use opens the named secret and passes it to fn. The plaintext buffer
// is wiped as soon as fn returns; fn must not retain the value.
func (g *SecretGuard) Use(name string, fn func(value string) error) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return ErrGuardReleased
	}
	enclave, ok := g.enclaves[name]
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotAcquired, name)
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret %s: %w", name, err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// UseMany opens several secrets at once and passes them to fn keyed by
// name. Plaintext buffers are wiped when fn returns; fn must not retain
// the values or the map.
func (g *SecretGuard) UseMany(names []string, fn func(values map[string]string) error) error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return ErrGuardReleased
	}
	enclaves := make(map[string]*memguard.Enclave, len(names))
	for _, name := range names {
		enclave, ok := g.enclaves[name]
		if !ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSecretNotAcquired, name)
		}
		enclaves[name] = enclave
	}
	g.mu.Unlock()

	values := make(map[string]string, len(names))
	var buffers []*memguard.LockedBuffer
	defer func() {
		for _, buf := range buffers {
			buf.Destroy()
		}
	}()

	for name, enclave := range enclaves {
		buf, err := enclave.Open()
		if err != nil {
			return fmt.Errorf("opening secret %s: %w", name, err)
		}
		buffers = append(buffers, buf)
		values[name] = buf.String()
	}

	return fn(values)
}

// Release erases every secret: each originating environment binding is
// overwritten with the empty value, and all enclave material is purged.
// Idempotent; safe to call from a defer and a signal handler.
func (g *SecretGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return
	}
	g.released = true

	for _, name := range g.names {
		// Overwrite rather than only unset, so stale readers see empty.
		os.Setenv(name, "")
	}
	g.enclaves = make(map[string]*memguard.Enclave)
	memguard.Purge()

	if g.log != nil {
		g.log.Debug("secrets released", "count", len(g.names))
	}
}

// HandleSignals installs a handler that releases secrets and exits
// non-zero on SIGINT or SIGTERM. Returns a stop function for tests.
func (g *SecretGuard) HandleSignals() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		g.log.Warn("interrupted, releasing secrets", "signal", sig.String())
		g.Release()
		os.Exit(1)
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
