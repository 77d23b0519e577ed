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
	"time"

	"github.com/AleutianAI/PanelDeploy/cmd/paneldeploy/config"
	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// newTestLogger returns a logger that discards all output.
func newTestLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
}

// newTestConfig returns a fully populated configuration for a
// non-production target.
func newTestConfig() *config.Config {
	return &config.Config{
		Domain:           "staging.example.com",
		Host:             "panel.example.com",
		User:             "acct",
		KeyPath:          "/home/acct/.ssh/deploy_key",
		Port:             22,
		DBUser:           "acct_app",
		ArtifactDir:      "build",
		ProductionDomain: "example.com",
	}
}

// noSleep is an injected sleep that returns immediately, for tests that
// exercise retrying components without caring about the schedule.
func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}
