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
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/PanelDeploy/cmd/paneldeploy/config"
	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// =============================================================================
// Stage Names
// =============================================================================

// Stage names, in execution order. Each stage is gated on the previous
// one succeeding; there is no branching back.
const (
	StageConfirmed             = "Confirmed"
	StageValidated             = "Validated"
	StageCredentialSecured     = "CredentialSecured"
	StageProvisioned           = "Provisioned"
	StageUploaded              = "Uploaded"
	StageDependenciesInstalled = "DependenciesInstalled"
	StageSchemaApplied         = "SchemaApplied"
	StageRegistered            = "Registered"
	StageVerified              = "Verified"
)

// StageStatus is the recorded outcome of one stage.
type StageStatus string

const (
	// StatusOK means the stage completed.
	StatusOK StageStatus = "ok"

	// StatusFailed means the stage failed and aborted the run.
	StatusFailed StageStatus = "failed"

	// StatusSkipped means the stage's gate did not apply to this run.
	StatusSkipped StageStatus = "skipped"
)

// errStageSkipped is the internal sentinel a stage returns when its
// gate does not apply (e.g. the confirm gate on a non-production run).
var errStageSkipped = errors.New("stage skipped")

// =============================================================================
// Result Types
// =============================================================================

// StageRecord is one (stage, outcome) pair in the run report.
type StageRecord struct {
	Stage    string        `yaml:"stage"`
	Status   StageStatus   `yaml:"status"`
	Error    string        `yaml:"error,omitempty"`
	Duration time.Duration `yaml:"duration"`
}

// PipelineResult reports one run. It is reporting-only: control flow is
// strictly sequential abort-on-failure and never consults this value.
type PipelineResult struct {
	RunID     string              `yaml:"run_id"`
	Stages    []StageRecord       `yaml:"stages"`
	Resources RemoteResourceState `yaml:"resources"`
	Success   bool                `yaml:"success"`
}

// Render returns the result as YAML for the end-of-run report.
func (r *PipelineResult) Render() string {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Sprintf("run_id: %s\nsuccess: %v\n", r.RunID, r.Success)
	}
	return string(out)
}

// =============================================================================
// Dependency Interfaces
// =============================================================================

// RemoteChannel is the secure-channel surface the pipeline needs.
// Satisfied by *SSHChannel; mocked in tests.
type RemoteChannel interface {
	HardenKey() error
	RunScript(ctx context.Context, script string) (string, error)
	SyncDirectory(ctx context.Context, localPath, remotePath string) error
}

// ResourceProvisioner is the provisioning surface. Satisfied by
// *Provisioner.
type ResourceProvisioner interface {
	EnsureDatabase(ctx context.Context, name string) (bool, error)
	EnsureUser(ctx context.Context, name, password string) (bool, error)
	EnsurePrivileges(ctx context.Context, user, database string) (bool, error)
}

// AppRegistrar is the registration surface. Satisfied by *Registrar.
type AppRegistrar interface {
	RegisterOrUpdate(ctx context.Context, app AppSpec) (bool, error)
}

// HealthChecker is the verification surface. Satisfied by
// *HealthVerifier.
type HealthChecker interface {
	VerifyAll(ctx context.Context) error
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline sequences a full deployment run.
//
// # Description
//
// Execution is single-threaded and strictly sequential: each stage's
// correctness assumption ("the database now exists") depends on the
// prior stage's completion. The first stage failure aborts the run;
// secret release is guaranteed on every path out of Run.
//
// # Limitations
//
// Concurrent runs against the same target are unsupported. There is no
// locking discipline on the remote account; safety for repeated
// (sequential) runs comes from the provisioner's query-then-mutate
// idempotency, which is not atomic.
type Pipeline struct {
	cfg         *config.Config
	guard       *SecretGuard
	channel     RemoteChannel
	provisioner ResourceProvisioner
	registrar   AppRegistrar
	verifier    HealthChecker
	prompter    UserPrompter
	engine      *RetryEngine
	attended    func() bool
	log         *logging.Logger
}

// PipelineDeps carries the pipeline's collaborators, for tests and for
// the default wiring.
type PipelineDeps struct {
	Guard       *SecretGuard
	Channel     RemoteChannel
	Provisioner ResourceProvisioner
	Registrar   AppRegistrar
	Verifier    HealthChecker
	Prompter    UserPrompter
	Engine      *RetryEngine
	Attended    func() bool
}

// NewPipeline creates a pipeline with explicit dependencies.
func NewPipeline(cfg *config.Config, deps PipelineDeps, log *logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		guard:       deps.Guard,
		channel:     deps.Channel,
		provisioner: deps.Provisioner,
		registrar:   deps.Registrar,
		verifier:    deps.Verifier,
		prompter:    deps.Prompter,
		engine:      deps.Engine,
		attended:    deps.Attended,
		log:         log,
	}
}

// NewDefaultPipeline wires the production collaborators: SSH channel,
// UAPI provisioner and registrar, HTTPS health verifier.
func NewDefaultPipeline(cfg *config.Config, autoApprove bool, log *logging.Logger) *Pipeline {
	proc := NewDefaultProcessManager()
	channel := NewSSHChannel(cfg, proc, log)
	api := NewUAPIClient(channel, log)

	var prompter UserPrompter = NewInteractivePrompter()
	if autoApprove {
		prompter = &AutoApprovePrompter{}
	}

	return NewPipeline(cfg, PipelineDeps{
		Guard:       NewSecretGuard(log),
		Channel:     channel,
		Provisioner: NewProvisioner(api, log),
		Registrar:   NewRegistrar(api, log),
		Verifier:    NewHealthVerifier(cfg.BaseURL(), log),
		Prompter:    prompter,
		Engine:      NewRetryEngine(),
		Attended:    isAttended,
	}, log)
}

// Guard exposes the secret guard so main can hook signals.
func (p *Pipeline) Guard() *SecretGuard {
	return p.guard
}

// Run executes every stage in order.
//
// Returns the run report and the first stage error, if any. Secrets are
// released before Run returns, on success and on failure alike.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	result := &PipelineResult{RunID: uuid.NewString()}
	defer p.guard.Release()

	stages := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{StageConfirmed, p.stageConfirm},
		{StageValidated, p.stageValidate},
		{StageCredentialSecured, p.stageHardenCredential},
		{StageProvisioned, func(ctx context.Context) error { return p.stageProvision(ctx, result) }},
		{StageUploaded, p.stageUpload},
		{StageDependenciesInstalled, p.stageInstall},
		{StageSchemaApplied, p.stageSchema},
		{StageRegistered, func(ctx context.Context) error { return p.stageRegister(ctx, result) }},
		{StageVerified, p.stageVerify},
	}

	runLog := p.log.With("run_id", result.RunID)
	runLog.Info("deployment starting", "domain", p.cfg.Domain, "host", p.cfg.Host)

	for _, stage := range stages {
		start := time.Now()

		// Capture the stage status explicitly before any test.
		stageErr := stage.fn(ctx)
		elapsed := time.Since(start)

		if errors.Is(stageErr, errStageSkipped) {
			result.Stages = append(result.Stages, StageRecord{
				Stage: stage.name, Status: StatusSkipped, Duration: elapsed,
			})
			runLog.Info("stage skipped", "stage", stage.name)
			continue
		}
		if stageErr != nil {
			result.Stages = append(result.Stages, StageRecord{
				Stage: stage.name, Status: StatusFailed, Error: stageErr.Error(), Duration: elapsed,
			})
			result.Success = false
			runLog.Error("stage failed", "stage", stage.name, "error", stageErr)
			return result, fmt.Errorf("stage %s: %w", stage.name, stageErr)
		}

		result.Stages = append(result.Stages, StageRecord{
			Stage: stage.name, Status: StatusOK, Duration: elapsed,
		})
		runLog.Info("stage complete", "stage", stage.name, "duration", elapsed)
	}

	result.Success = true
	runLog.Info("deployment complete", "domain", p.cfg.Domain)
	return result, nil
}

// =============================================================================
// Stages
// =============================================================================

// stageConfirm gates production deployments behind an explicit yes.
// The gate exists only when the target is the designated production
// domain and an operator is present; unattended runs skip it.
func (p *Pipeline) stageConfirm(ctx context.Context) error {
	if !p.cfg.IsProduction() {
		return errStageSkipped
	}
	if !p.attended() {
		if _, auto := p.prompter.(*AutoApprovePrompter); !auto {
			return errStageSkipped
		}
	}

	ok, err := p.prompter.Confirm(ctx,
		fmt.Sprintf("Deploy to PRODUCTION domain %s?", p.cfg.Domain))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("deployment declined by operator")
	}
	return nil
}

// stageValidate checks the configuration and opens the secret scope.
// Runs before any network or filesystem side effect.
func (p *Pipeline) stageValidate(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return &ConfigurationError{Err: err}
	}
	if err := p.guard.Acquire(config.SecretNames()); err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

func (p *Pipeline) stageHardenCredential(ctx context.Context) error {
	return p.channel.HardenKey()
}

// stageProvision ensures database, user, and privileges in order,
// recording the derived remote state as each resource is confirmed.
func (p *Pipeline) stageProvision(ctx context.Context, result *PipelineResult) error {
	dbName := p.cfg.DatabaseName()

	if _, err := p.provisioner.EnsureDatabase(ctx, dbName); err != nil {
		return err
	}
	result.Resources.DatabaseExists = true

	err := p.guard.Use(config.EnvDBPassword, func(password string) error {
		_, err := p.provisioner.EnsureUser(ctx, p.cfg.DBUser, password)
		return err
	})
	if err != nil {
		return err
	}
	result.Resources.UserExists = true

	if _, err := p.provisioner.EnsurePrivileges(ctx, p.cfg.DBUser, dbName); err != nil {
		return err
	}
	result.Resources.PrivilegesGranted = true
	return nil
}

func (p *Pipeline) stageUpload(ctx context.Context) error {
	return p.channel.SyncDirectory(ctx, p.cfg.ArtifactDir, p.cfg.RemoteAppPath())
}

// stageInstall prepares the virtualenv and installs dependencies, with
// retries: package downloads are transiently flaky.
func (p *Pipeline) stageInstall(ctx context.Context) error {
	script := buildInstallScript(p.cfg.RemoteAppPath())
	_, err := p.engine.Retry(ctx, DefaultInstallRetryPolicy(), func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			p.log.Warn("retrying dependency installation", "attempt", attempt)
		}
		_, err := p.channel.RunScript(ctx, script)
		return err
	})
	return err
}

func (p *Pipeline) stageSchema(ctx context.Context) error {
	return p.guard.Use(config.EnvDBPassword, func(password string) error {
		script := buildSchemaScript(
			p.cfg.RemoteAppPath(), p.cfg.DatabaseName(), p.cfg.DBUser, password)
		_, err := p.channel.RunScript(ctx, script)
		return err
	})
}

// stageRegister converges the Passenger registration, injecting the
// application's full runtime environment, then restarts the app.
func (p *Pipeline) stageRegister(ctx context.Context, result *PipelineResult) error {
	secretEnv := map[string]string{
		config.EnvDBPassword:     "CPANEL_DB_PASSWORD",
		config.EnvGitHubToken:    "GITHUB_TOKEN",
		config.EnvFlaskSecretKey: "FLASK_SECRET_KEY",
		config.EnvWebhookSecret:  "WEBHOOK_SECRET",
	}

	err := p.guard.UseMany(config.SecretNames(), func(values map[string]string) error {
		env := EmptyEnvVars()
		env.MustAdd("FLASK_ENV", "PRODUCTION", false)
		env.MustAdd("CPANEL_DB_HOST", "localhost", false)
		env.MustAdd("CPANEL_DB_NAME", p.cfg.DatabaseName(), false)
		env.MustAdd("CPANEL_DB_USER", p.cfg.DBUser, false)
		for source, target := range secretEnv {
			env.MustAdd(target, values[source], true)
		}

		_, err := p.registrar.RegisterOrUpdate(ctx, AppSpec{
			Name:    "backend",
			Path:    p.cfg.RemoteAppPath(),
			Domain:  p.cfg.Domain,
			BaseURI: "/",
			Mode:    "production",
			Env:     env,
		})
		return err
	})
	if err != nil {
		return err
	}
	result.Resources.ApplicationRegistered = true

	if _, err := p.channel.RunScript(ctx, restartScript(p.cfg.RemoteAppPath())); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) stageVerify(ctx context.Context) error {
	return p.verifier.VerifyAll(ctx)
}
