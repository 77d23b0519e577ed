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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/PanelDeploy/cmd/paneldeploy/config"
	"github.com/AleutianAI/PanelDeploy/cmd/paneldeploy/internal/util"
	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// keyFileMode is the only acceptable permission set for the SSH key:
// owner read/write, nothing for group or world.
const keyFileMode os.FileMode = 0o600

// SSHChannel runs commands on the remote host and transfers files to it
// under one fixed authentication context.
//
// # Description
//
// All remote interaction goes through this type: command scripts are fed
// to `ssh ... bash -s` over stdin (never placed on a command line), and
// artifact uploads use rsync in checksum mode. The known-hosts policy is
// accept-new: unseen hosts are accepted, mismatched keys are rejected.
//
// # Thread Safety
//
// SSHChannel is immutable after construction and safe for concurrent use
// as long as the underlying ProcessManager is.
type SSHChannel struct {
	host    string
	user    string
	keyPath string
	port    int
	proc    ProcessManager
	log     *logging.Logger
}

// NewSSHChannel creates a channel bound to the configured host, user,
// key, and port.
func NewSSHChannel(cfg *config.Config, proc ProcessManager, log *logging.Logger) *SSHChannel {
	return &SSHChannel{
		host:    cfg.Host,
		user:    cfg.User,
		keyPath: cfg.KeyPath,
		port:    cfg.Port,
		proc:    proc,
		log:     log,
	}
}

// HardenKey verifies and enforces owner-only access on the key file.
//
// # Description
//
// Checks that the credential exists, sets its mode to 0600, then
// re-reads the mode and verifies it took effect. The re-read defends
// against a set-then-check race with anything else touching the file.
// Any failure is fatal to the pipeline: a group- or world-readable key
// is never acceptable.
func (c *SSHChannel) HardenKey() error {
	info, statErr := os.Stat(c.keyPath)
	if statErr != nil {
		return &CredentialError{Path: c.keyPath, Reason: "key file not accessible", Err: statErr}
	}
	if !info.Mode().IsRegular() {
		return &CredentialError{Path: c.keyPath, Reason: "key is not a regular file"}
	}

	if err := os.Chmod(c.keyPath, keyFileMode); err != nil {
		return &CredentialError{Path: c.keyPath, Reason: "cannot harden permissions", Err: err}
	}

	// Re-read after setting; never trust that the chmod stuck.
	info, statErr = os.Stat(c.keyPath)
	if statErr != nil {
		return &CredentialError{Path: c.keyPath, Reason: "key file vanished during hardening", Err: statErr}
	}
	if perm := info.Mode().Perm(); perm != keyFileMode {
		return &CredentialError{
			Path:   c.keyPath,
			Reason: fmt.Sprintf("mode is %04o after hardening, want %04o", perm, keyFileMode),
		}
	}

	c.log.Debug("credential hardened", "path", c.keyPath)
	return nil
}

// sshBaseArgs returns the fixed authentication arguments shared by ssh
// and the rsync transport.
func (c *SSHChannel) sshBaseArgs() []string {
	return []string{
		"-i", c.keyPath,
		"-p", strconv.Itoa(c.port),
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
	}
}

func (c *SSHChannel) target() string {
	return c.user + "@" + c.host
}

// RunScript executes a multi-line command script on the remote host.
//
// # Description
//
// The script travels over stdin to `bash -s`, so it never appears in the
// local process table or shell history. A non-zero remote exit or a
// connection failure returns a *RemoteExecutionError; the caller decides
// whether to retry.
//
// # Outputs
//
//   - string: remote stdout
//   - error: *RemoteExecutionError wrapping a *util.CommandError on
//     non-zero exit
func (c *SSHChannel) RunScript(ctx context.Context, script string) (string, error) {
	args := append(c.sshBaseArgs(), c.target(), "bash", "-s")

	stdout, stderr, exitCode, runErr := c.proc.RunWithInput(ctx, "ssh", []byte(script), args...)
	if runErr != nil {
		return stdout, &RemoteExecutionError{Err: runErr}
	}
	if exitCode != 0 {
		return stdout, &RemoteExecutionError{
			Err: util.NewCommandError("ssh bash -s", exitCode, stderr, nil),
		}
	}
	return stdout, nil
}

// SyncDirectory pushes local artifacts to the remote path.
//
// # Description
//
// One-way push with rsync: archive mode, permissions preserved,
// extraneous remote files deleted, checksum comparison instead of
// mtime. Fails with *TransferError if the local source is missing or
// empty (an empty upload would wipe the remote application) or if the
// transfer itself fails.
func (c *SSHChannel) SyncDirectory(ctx context.Context, localPath, remotePath string) error {
	entries, readErr := os.ReadDir(localPath)
	if readErr != nil {
		return &TransferError{Source: localPath, Err: fmt.Errorf("local source missing: %w", readErr)}
	}
	if len(entries) == 0 {
		return &TransferError{Source: localPath, Err: fmt.Errorf("local source is empty")}
	}

	// rsync takes its transport as a single string argument. The pieces
	// are the same validated, whitespace-free values as sshBaseArgs, so
	// the join cannot change token boundaries.
	transport := "ssh " + strings.Join(c.sshBaseArgs(), " ")

	args := []string{
		"-az",
		"--delete",
		"--checksum",
		"--perms",
		"-e", transport,
		strings.TrimSuffix(localPath, "/") + "/",
		fmt.Sprintf("%s:%s/", c.target(), strings.TrimSuffix(remotePath, "/")),
	}

	c.log.Info("uploading artifacts", "source", localPath, "destination", remotePath)

	_, stderr, exitCode, runErr := c.proc.Run(ctx, "rsync", args...)
	if runErr != nil {
		return &TransferError{Source: localPath, Err: runErr}
	}
	if exitCode != 0 {
		return &TransferError{
			Source: localPath,
			Err:    util.NewCommandError("rsync", exitCode, stderr, nil),
		}
	}
	return nil
}

// shellQuote wraps s in single quotes for safe embedding inside a remote
// command script. Any embedded single quote is closed, escaped, and
// reopened. This is the only mechanism by which runtime values reach a
// remote script; values never pass through plain string concatenation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
