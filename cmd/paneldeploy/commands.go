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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/PanelDeploy/cmd/paneldeploy/config"
	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

var (
	flagYes     bool
	flagVerbose bool
	flagEnvFile string
)

// NewRootCommand builds the paneldeploy command tree.
//
// # Description
//
// Three subcommands:
//   - deploy: run the full deployment pipeline against the target host.
//   - check: run only the health verification against the live domain.
//   - validate: load and validate the configuration, touching nothing.
//
// # Outputs
//
//   - *cobra.Command: the root command, ready for Execute().
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "paneldeploy",
		Short:        "Deploy the backend application to a cPanel host",
		Long:         "paneldeploy provisions, uploads, registers, and verifies the backend\napplication on a shared cPanel host over SSH. Runs are idempotent:\nrepeating a run against an already-deployed target converges to the\nsame state without duplicate side effects.",
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false,
		"skip the production confirmation prompt")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", "",
		"load environment variables from this file before reading config")

	root.AddCommand(newDeployCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newValidateCommand())
	return root
}

func newDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Run the full deployment pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Close()

			cfg, err := config.Load(flagEnvFile)
			if err != nil {
				return &ConfigurationError{Err: err}
			}

			pipeline := NewDefaultPipeline(cfg, flagYes, log)
			stop := pipeline.Guard().HandleSignals()
			defer stop()

			result, runErr := pipeline.Run(cmd.Context())
			fmt.Fprint(cmd.OutOrStdout(), result.Render())
			return runErr
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the deployed application's health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Close()

			cfg, err := config.Load(flagEnvFile)
			if err != nil {
				return &ConfigurationError{Err: err}
			}
			if err := cfg.Validate(); err != nil {
				return &ConfigurationError{Err: err}
			}

			verifier := NewHealthVerifier(cfg.BaseURL(), log)
			if err := verifier.VerifyAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "all health checks passed for %s\n", cfg.BaseURL())
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without deploying",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagEnvFile)
			if err != nil {
				return &ConfigurationError{Err: err}
			}
			if err := cfg.Validate(); err != nil {
				return &ConfigurationError{Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid for %s\n", cfg.Domain)
			return nil
		},
	}
}

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	if flagVerbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "paneldeploy",
	})
}
