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
	"strings"
	"time"
)

// DefaultInstallRetryPolicy returns the retry budget for remote
// dependency installation. Package downloads are the one remote step
// that fails transiently often enough to deserve retries.
func DefaultInstallRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2.0}
}

// buildInstallScript returns the remote script that prepares the
// application virtualenv and installs pinned dependencies.
//
// Every runtime value is embedded through shellQuote; the script itself
// travels over the channel's stdin, never a command line.
func buildInstallScript(appPath string) string {
	return strings.Join([]string{
		"set -euo pipefail",
		"cd " + shellQuote(appPath),
		"if [ ! -d venv ]; then python3 -m venv venv; fi",
		"./venv/bin/pip install --quiet --upgrade pip",
		"./venv/bin/pip install --quiet -r requirements.txt",
	}, "\n") + "\n"
}

// buildSchemaScript returns the remote script that creates the database
// schema. The creation command is safe to invoke repeatedly: existing
// schema objects are left untouched.
//
// Database credentials are exported into the script's environment (the
// script arrives over stdin), so they never appear in the remote
// process table. Unlike the administrative API calls, this path has no
// argument-visibility window.
func buildSchemaScript(appPath, dbName, dbUser, dbPassword string) string {
	return strings.Join([]string{
		"set -euo pipefail",
		"cd " + shellQuote(appPath),
		"export CPANEL_DB_HOST=localhost",
		"export CPANEL_DB_NAME=" + shellQuote(dbName),
		"export CPANEL_DB_USER=" + shellQuote(dbUser),
		"export CPANEL_DB_PASSWORD=" + shellQuote(dbPassword),
		"export FLASK_ENV=PRODUCTION",
		"./venv/bin/python -m scripts.create_schema",
	}, "\n") + "\n"
}

// restartScript touches Passenger's restart sentinel so the newly
// uploaded code is picked up without killing in-flight requests.
func restartScript(appPath string) string {
	return fmt.Sprintf("mkdir -p %s/tmp && touch %s/tmp/restart.txt\n",
		shellQuote(appPath), shellQuote(appPath))
}
