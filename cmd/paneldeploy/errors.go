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

import "fmt"

// -----------------------------------------------------------------------------
// Error Taxonomy
// -----------------------------------------------------------------------------
//
// Every stage failure maps to exactly one of these types. All are fatal:
// the pipeline never retries a failed stage, only individual operations
// inside a stage retry (installation and health polling). Messages carry
// resource names and constraint categories, never secret values.

// ConfigurationError reports a missing or unsafe configuration input.
// Never retried; the pipeline aborts before any side effect occurs.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CredentialError reports that the SSH key is missing or could not be
// hardened to owner-only access.
type CredentialError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("credential %s: %s", e.Path, e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ProvisioningError reports a failed administrative API call while
// ensuring the database, user, or privileges.
type ProvisioningError struct {
	// Resource is what was being provisioned ("database", "user", "privileges").
	Resource string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Resource, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// RegistrationError reports a failed application register or update call.
type RegistrationError struct {
	App string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering application %s: %v", e.App, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// TransferError reports a failed artifact upload, including a missing or
// empty local source.
type TransferError struct {
	Source string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transferring %s: %v", e.Source, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// RemoteExecutionError reports a remote command that exited non-zero or
// a connection failure.
type RemoteExecutionError struct {
	Err error
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote execution: %v", e.Err)
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// HealthCheckError reports an endpoint that never became healthy within
// its retry budget. Later endpoints are never polled.
type HealthCheckError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }
