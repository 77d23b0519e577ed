// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package config loads and validates the deployment configuration.

Configuration is environment-first: every input is an environment
variable, optionally seeded from a .env file (godotenv). This mirrors how
the deployed backend itself reads its settings, so one .env file can
drive both sides.

# Security

Secret values (database password, API tokens) are validated for presence
but never stored on the Config struct. The secrets guard in package main
is the only component that holds them; Config records their names only.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// -----------------------------------------------------------------------------
// Environment Variable Names
// -----------------------------------------------------------------------------

const (
	// EnvDomain is the target domain served by the deployed application.
	EnvDomain = "DEPLOY_DOMAIN"

	// EnvHost is the SSH host address of the hosting account.
	EnvHost = "DEPLOY_HOST"

	// EnvUser is the SSH user, which is also the cPanel account name.
	EnvUser = "DEPLOY_USER"

	// EnvKeyPath is the path to the SSH private key file.
	EnvKeyPath = "DEPLOY_SSH_KEY"

	// EnvPort is the SSH port.
	EnvPort = "DEPLOY_PORT"

	// EnvDBUser is the MySQL username to provision.
	EnvDBUser = "DEPLOY_DB_USER"

	// EnvArtifactDir is the local directory of prebuilt artifacts to upload.
	// Optional; defaults to "build".
	EnvArtifactDir = "DEPLOY_ARTIFACT_DIR"

	// EnvProductionDomain is the domain that triggers the interactive
	// confirmation gate. Used for nothing else.
	EnvProductionDomain = "PRODUCTION_DOMAIN"

	// EnvDBPassword is the MySQL password. Secret: never stored on Config.
	EnvDBPassword = "DEPLOY_DB_PASSWORD"

	// EnvGitHubToken is the backend's GitHub API token. Secret.
	EnvGitHubToken = "GITHUB_TOKEN"

	// EnvFlaskSecretKey is the backend's session secret. Secret.
	EnvFlaskSecretKey = "FLASK_SECRET_KEY"

	// EnvWebhookSecret is the backend's webhook signing secret. Secret.
	EnvWebhookSecret = "WEBHOOK_SECRET"
)

// SecretNames lists the environment variables whose values are secrets.
// The secrets guard acquires these at startup and erases them on exit.
func SecretNames() []string {
	return []string{EnvDBPassword, EnvGitHubToken, EnvFlaskSecretKey, EnvWebhookSecret}
}

// RequiredNames lists every environment variable that must be set for a
// deployment run, secrets included.
func RequiredNames() []string {
	return []string{
		EnvDomain, EnvHost, EnvUser, EnvKeyPath, EnvPort, EnvDBUser,
		EnvProductionDomain,
		EnvDBPassword, EnvGitHubToken, EnvFlaskSecretKey, EnvWebhookSecret,
	}
}

// -----------------------------------------------------------------------------
// Validation Error
// -----------------------------------------------------------------------------

// ValidationError reports a configuration constraint violation.
//
// The message names the variable and the violated constraint category,
// never the offending value, so secrets cannot leak through error text.
type ValidationError struct {
	// Name is the environment variable name.
	Name string

	// Constraint is the violated constraint category
	// ("required", "shellsafe", "numeric", "port_range").
	Constraint string
}

// Error returns "configuration invalid: NAME violates CONSTRAINT".
func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration invalid: %s violates %s", e.Name, e.Constraint)
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config is an immutable snapshot of all non-secret deployment inputs.
//
// Construct with Load; the environment is read exactly once. Secret
// values are intentionally absent (see package doc).
type Config struct {
	// Domain is the target domain, e.g. "app.example.com".
	Domain string `validate:"required,shellsafe"`

	// Host is the SSH host address.
	Host string `validate:"required,shellsafe"`

	// User is the SSH / cPanel account user.
	User string `validate:"required,shellsafe"`

	// KeyPath is the SSH private key path.
	KeyPath string `validate:"required,shellsafe"`

	// Port is the SSH port (1-65535).
	Port int `validate:"required,min=1,max=65535"`

	// DBUser is the MySQL username to provision.
	DBUser string `validate:"required,shellsafe"`

	// ArtifactDir is the local directory holding prebuilt artifacts.
	ArtifactDir string `validate:"required"`

	// ProductionDomain gates the interactive confirmation prompt.
	ProductionDomain string `validate:"required,shellsafe"`
}

// fieldEnv maps struct field names back to their environment variables
// for error reporting.
var fieldEnv = map[string]string{
	"Domain":           EnvDomain,
	"Host":             EnvHost,
	"User":             EnvUser,
	"KeyPath":          EnvKeyPath,
	"Port":             EnvPort,
	"DBUser":           EnvDBUser,
	"ArtifactDir":      EnvArtifactDir,
	"ProductionDomain": EnvProductionDomain,
}

// Load builds a Config from the process environment.
//
// If envFile is non-empty it must exist and parse; otherwise a ".env" in
// the working directory is loaded when present and silently skipped when
// absent (matching the backend's own settings loader). Load does not
// validate; call Validate on the result before any stage runs.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := &Config{
		Domain:           os.Getenv(EnvDomain),
		Host:             os.Getenv(EnvHost),
		User:             os.Getenv(EnvUser),
		KeyPath:          os.Getenv(EnvKeyPath),
		DBUser:           os.Getenv(EnvDBUser),
		ArtifactDir:      os.Getenv(EnvArtifactDir),
		ProductionDomain: os.Getenv(EnvProductionDomain),
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "build"
	}

	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &ValidationError{Name: EnvPort, Constraint: "numeric"}
		}
		cfg.Port = port
	}

	return cfg, nil
}

// validate is the shared validator instance with the shellsafe rule
// registered. validator.Validate is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tag names or nil funcs.
	_ = v.RegisterValidation("shellsafe", func(fl validator.FieldLevel) bool {
		return isShellSafe(fl.Field().String())
	})
	return v
}

// shellMetacharacters are the bytes rejected from host identifiers,
// usernames and paths. A value carrying any of them could escape the
// remote command quoting.
const shellMetacharacters = "`;&|$()<>"

// isShellSafe reports whether s is free of shell metacharacters,
// whitespace and control bytes.
func isShellSafe(s string) bool {
	if strings.ContainsAny(s, shellMetacharacters) {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Validate checks the snapshot and the presence of every secret input.
//
// Pure with respect to the Config: no network or filesystem side
// effects. Returns the first violation as a *ValidationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errorsAs(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			name := fieldEnv[fe.StructField()]
			if name == "" {
				name = fe.StructField()
			}
			return &ValidationError{Name: name, Constraint: constraintCategory(fe.Tag())}
		}
		return err
	}

	// Secrets: presence only. Values stay in the environment until the
	// secrets guard takes ownership.
	for _, name := range SecretNames() {
		if os.Getenv(name) == "" {
			return &ValidationError{Name: name, Constraint: "required"}
		}
	}
	return nil
}

// constraintCategory maps validator tags onto the public constraint
// vocabulary used in error messages.
func constraintCategory(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "shellsafe":
		return "shellsafe"
	case "min", "max":
		return "port_range"
	default:
		return tag
	}
}

// errorsAs is a tiny indirection so Validate reads linearly.
func errorsAs(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// -----------------------------------------------------------------------------
// Derived Values
// -----------------------------------------------------------------------------

// DatabaseName returns the cPanel-prefixed database name for this account.
func (c *Config) DatabaseName() string {
	return c.User + "_backend"
}

// RemoteAppPath returns the application directory relative to the remote
// account's home.
func (c *Config) RemoteAppPath() string {
	return "apps/backend"
}

// BaseURL returns the HTTPS root used for health verification.
func (c *Config) BaseURL() string {
	return "https://" + c.Domain
}

// IsProduction reports whether the target domain is the designated
// production domain.
func (c *Config) IsProduction() bool {
	return c.Domain == c.ProductionDomain
}
