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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// ScriptRunner executes a command script on the remote host. Satisfied
// by *SSHChannel; mocked in tests.
type ScriptRunner interface {
	RunScript(ctx context.Context, script string) (string, error)
}

// UAPIParam is one key=value argument to a UAPI call.
type UAPIParam struct {
	Key   string
	Value string

	// Sensitive marks values (passwords, tokens) that must never reach
	// a log sink. Calls carrying a sensitive param also suppress
	// response logging, since cPanel echoes arguments back in metadata.
	Sensitive bool
}

// UAPIResult is the inner result object of every UAPI response.
type UAPIResult struct {
	// Status is 1 on success, 0 on failure.
	Status int `json:"status"`

	// Errors holds human-readable failure descriptions (null on success).
	Errors []string `json:"errors"`

	// Data is the operation payload; lists return a JSON array here.
	Data json.RawMessage `json:"data"`
}

type uapiEnvelope struct {
	Result UAPIResult `json:"result"`
}

// UAPIClient invokes the hosting platform's administrative API.
//
// # Description
//
// cPanel's UAPI is exposed as a remote command-line tool, so the client
// is a thin JSON layer over the secure channel: each call becomes
// `uapi --output=json Module function key=value...` executed on the
// host, with every value passed through shell quoting. Success is
// decided solely by the response's result.status field.
//
// # Security
//
// Parameter values marked Sensitive are quoted into the script (which
// travels over stdin) but are excluded from all log output, and the raw
// response of such calls is never logged. The remote uapi process does
// receive them as invocation parameters; that transient exposure is a
// documented platform limitation, mitigated by executing immediately
// and discarding.
type UAPIClient struct {
	runner ScriptRunner
	log    *logging.Logger
}

// NewUAPIClient creates a client over the given channel.
func NewUAPIClient(runner ScriptRunner, log *logging.Logger) *UAPIClient {
	return &UAPIClient{runner: runner, log: log}
}

// Call invokes one UAPI function and returns its data payload.
//
// Returns an error if the channel fails, the response is not valid
// JSON, or result.status is not 1.
func (c *UAPIClient) Call(ctx context.Context, module, function string, params ...UAPIParam) (json.RawMessage, error) {
	var sb strings.Builder
	sb.WriteString("uapi --output=json ")
	sb.WriteString(module)
	sb.WriteByte(' ')
	sb.WriteString(function)

	sensitive := false
	for _, p := range params {
		sb.WriteByte(' ')
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		sb.WriteString(shellQuote(p.Value))
		if p.Sensitive {
			sensitive = true
		}
	}

	c.log.Debug("uapi call", "module", module, "function", function, "params_sensitive", sensitive)

	stdout, err := c.runner.RunScript(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("uapi %s %s: %w", module, function, err)
	}

	result, err := parseUAPIResponse(stdout)
	if err != nil {
		return nil, fmt.Errorf("uapi %s %s: %w", module, function, err)
	}
	if result.Status != 1 {
		reason := strings.Join(result.Errors, "; ")
		if reason == "" {
			reason = "unspecified API failure"
		}
		return nil, fmt.Errorf("uapi %s %s: %s", module, function, reason)
	}

	return result.Data, nil
}

// ListField calls a list function and extracts one string field from
// every object in the data array.
//
//	names, err := c.ListField(ctx, "Mysql", "list_databases", "database")
func (c *UAPIClient) ListField(ctx context.Context, module, function, field string, params ...UAPIParam) ([]string, error) {
	data, err := c.Call(ctx, module, function, params...)
	if err != nil {
		return nil, err
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("uapi %s %s: unexpected data shape: %w", module, function, err)
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		raw, ok := row[field]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		out = append(out, value)
	}
	return out, nil
}

// ListStrings calls a list function whose data payload is a plain
// string array (e.g. Mysql get_privileges_on_database).
func (c *UAPIClient) ListStrings(ctx context.Context, module, function string, params ...UAPIParam) ([]string, error) {
	data, err := c.Call(ctx, module, function, params...)
	if err != nil {
		return nil, err
	}

	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("uapi %s %s: unexpected data shape: %w", module, function, err)
	}
	return out, nil
}

// parseUAPIResponse extracts the result object from raw uapi output.
// Locale warnings occasionally precede the JSON document, so parsing
// starts at the first brace.
func parseUAPIResponse(raw string) (*UAPIResult, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON in response")
	}

	var envelope uapiEnvelope
	if err := json.Unmarshal([]byte(raw[start:]), &envelope); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &envelope.Result, nil
}
