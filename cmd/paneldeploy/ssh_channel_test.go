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
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func newTestChannel(t *testing.T, proc ProcessManager) *SSHChannel {
	t.Helper()
	return NewSSHChannel(newTestConfig(), proc, newTestLogger())
}

func TestSSHChannel_HardenKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "deploy_key")
	if err := os.WriteFile(keyPath, []byte("fake key material"), 0o644); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	cfg := newTestConfig()
	cfg.KeyPath = keyPath
	channel := NewSSHChannel(cfg, &MockProcessManager{}, newTestLogger())

	if err := channel.HardenKey(); err != nil {
		t.Fatalf("HardenKey() unexpected error: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat after harden: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key mode after harden = %04o, want 0600", perm)
	}
}

func TestSSHChannel_HardenKey_Missing(t *testing.T) {
	cfg := newTestConfig()
	cfg.KeyPath = filepath.Join(t.TempDir(), "no_such_key")
	channel := NewSSHChannel(cfg, &MockProcessManager{}, newTestLogger())

	err := channel.HardenKey()
	if err == nil {
		t.Fatal("HardenKey() expected error for missing key")
	}
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("HardenKey() error type = %T, want *CredentialError", err)
	}
	if credErr.Path != cfg.KeyPath {
		t.Errorf("CredentialError.Path = %q, want %q", credErr.Path, cfg.KeyPath)
	}
}

func TestSSHChannel_HardenKey_NotRegular(t *testing.T) {
	cfg := newTestConfig()
	cfg.KeyPath = t.TempDir() // a directory, not a key file
	channel := NewSSHChannel(cfg, &MockProcessManager{}, newTestLogger())

	err := channel.HardenKey()
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("HardenKey() error = %v, want *CredentialError", err)
	}
}

func TestSSHChannel_RunScript(t *testing.T) {
	mock := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, input []byte, args ...string) (string, string, int, error) {
			return "remote output", "", 0, nil
		},
	}
	channel := newTestChannel(t, mock)

	out, err := channel.RunScript(context.Background(), "echo hello\n")
	if err != nil {
		t.Fatalf("RunScript() unexpected error: %v", err)
	}
	if out != "remote output" {
		t.Errorf("RunScript() output = %q, want %q", out, "remote output")
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 process call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != "ssh" {
		t.Errorf("command = %q, want ssh", call.Name)
	}
	if string(call.Input) != "echo hello\n" {
		t.Errorf("stdin = %q, want the script", string(call.Input))
	}

	// The script must travel over stdin only, never as an argument.
	for _, arg := range call.Args {
		if strings.Contains(arg, "echo hello") {
			t.Errorf("script leaked into argument list: %q", arg)
		}
	}

	wantArgs := []string{
		"-i", channel.keyPath,
		"-p", "22",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"acct@panel.example.com",
		"bash", "-s",
	}
	if !slices.Equal(call.Args, wantArgs) {
		t.Errorf("ssh args = %v, want %v", call.Args, wantArgs)
	}
}

func TestSSHChannel_RunScript_RemoteFailure(t *testing.T) {
	mock := &MockProcessManager{
		RunFunc: func(ctx context.Context, name string, input []byte, args ...string) (string, string, int, error) {
			return "", "bash: line 3: pip: command not found", 127, nil
		},
	}
	channel := newTestChannel(t, mock)

	_, err := channel.RunScript(context.Background(), "pip install\n")
	var remoteErr *RemoteExecutionError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("RunScript() error type = %T, want *RemoteExecutionError", err)
	}
	if !strings.Contains(err.Error(), "127") {
		t.Errorf("error %q does not mention the exit code", err.Error())
	}
}

func TestSSHChannel_SyncDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte("print()"), 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}

	mock := &MockProcessManager{}
	channel := newTestChannel(t, mock)

	if err := channel.SyncDirectory(context.Background(), dir, "apps/backend"); err != nil {
		t.Fatalf("SyncDirectory() unexpected error: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 process call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != "rsync" {
		t.Errorf("command = %q, want rsync", call.Name)
	}

	for _, flag := range []string{"-az", "--delete", "--checksum", "--perms"} {
		if !slices.Contains(call.Args, flag) {
			t.Errorf("rsync args %v missing %s", call.Args, flag)
		}
	}

	last := call.Args[len(call.Args)-1]
	if last != "acct@panel.example.com:apps/backend/" {
		t.Errorf("rsync destination = %q, want trailing-slash remote path", last)
	}
	if src := call.Args[len(call.Args)-2]; src != dir+"/" {
		t.Errorf("rsync source = %q, want %q", src, dir+"/")
	}
}

func TestSSHChannel_SyncDirectory_SourceProblems(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "missing source",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent")
			},
		},
		{
			name: "empty source",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockProcessManager{}
			channel := newTestChannel(t, mock)

			err := channel.SyncDirectory(context.Background(), tt.setup(t), "apps/backend")
			var transferErr *TransferError
			if !errors.As(err, &transferErr) {
				t.Fatalf("SyncDirectory() error type = %T, want *TransferError", err)
			}
			if len(mock.Calls()) != 0 {
				t.Error("SyncDirectory() invoked rsync despite bad source")
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "backend", "'backend'"},
		{"spaces", "two words", "'two words'"},
		{"metacharacters", "a;b&c|d", "'a;b&c|d'"},
		{"embedded quote", "it's", `'it'\''s'`},
		{"command substitution", "$(reboot)", "'$(reboot)'"},
		{"empty", "", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellQuote(tt.input); got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
