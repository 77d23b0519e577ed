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
	"strings"
	"testing"
)

func TestErrorTaxonomy_Unwrap(t *testing.T) {
	cause := errors.New("root cause")

	tests := []struct {
		name string
		err  error
	}{
		{"configuration", &ConfigurationError{Err: cause}},
		{"credential", &CredentialError{Path: "/k", Reason: "missing", Err: cause}},
		{"provisioning", &ProvisioningError{Resource: "database", Err: cause}},
		{"registration", &RegistrationError{App: "backend", Err: cause}},
		{"transfer", &TransferError{Source: "build", Err: cause}},
		{"remote execution", &RemoteExecutionError{Err: cause}},
		{"health check", &HealthCheckError{Endpoint: "/health", Attempts: 5, Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Errorf("%T does not unwrap to its cause", tt.err)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Errorf("%T breaks the chain when wrapped", tt.err)
			}
		})
	}
}

func TestHealthCheckError_Message(t *testing.T) {
	err := &HealthCheckError{
		Endpoint: "/health/db",
		Attempts: 5,
		Err:      errors.New(`status "unhealthy"`),
	}

	msg := err.Error()
	if !strings.Contains(msg, "/health/db") {
		t.Errorf("message %q does not name the endpoint", msg)
	}
	if !strings.Contains(msg, "5") {
		t.Errorf("message %q does not carry the attempt count", msg)
	}
}

func TestCredentialError_Message(t *testing.T) {
	err := &CredentialError{Path: "/home/acct/.ssh/key", Reason: "mode is 0644 after hardening, want 0600"}
	msg := err.Error()
	if !strings.Contains(msg, "/home/acct/.ssh/key") || !strings.Contains(msg, "0644") {
		t.Errorf("message %q missing path or reason", msg)
	}
}
