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
	"slices"

	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// allPrivileges is the grant applied to the application's database user.
const allPrivileges = "ALL PRIVILEGES"

// RemoteResourceState is the derived view of what already exists on the
// remote account. It is computed fresh on every run by querying the
// administrative API's listing operations, never cached locally, which
// is what makes repeated runs safe after partial failures.
type RemoteResourceState struct {
	DatabaseExists        bool `yaml:"database_exists"`
	UserExists            bool `yaml:"user_exists"`
	PrivilegesGranted     bool `yaml:"privileges_granted"`
	ApplicationRegistered bool `yaml:"application_registered"`
}

// Provisioner performs idempotent create-if-absent operations for the
// database, database user, and privilege grant.
//
// # Description
//
// Every operation follows the same pattern: query the current remote
// state, then mutate only if the resource is absent. A run that failed
// after creating the database but before granting privileges will, on
// re-run, skip database creation and proceed directly to the grant.
//
// # Limitations
//
// Query-then-mutate is not atomic. Two simultaneous runs against the
// same account can race on resource creation; concurrent invocation is
// unsupported.
type Provisioner struct {
	api *UAPIClient
	log *logging.Logger
}

// NewProvisioner creates a provisioner over the given API client.
func NewProvisioner(api *UAPIClient, log *logging.Logger) *Provisioner {
	return &Provisioner{api: api, log: log}
}

// EnsureDatabase creates the database unless it already exists.
// Returns whether a create call was issued.
func (p *Provisioner) EnsureDatabase(ctx context.Context, name string) (bool, error) {
	existing, err := p.api.ListField(ctx, "Mysql", "list_databases", "database")
	if err != nil {
		return false, &ProvisioningError{Resource: "database", Err: err}
	}

	if slices.Contains(existing, name) {
		p.log.Info("database already exists", "database", name)
		return false, nil
	}

	_, err = p.api.Call(ctx, "Mysql", "create_database",
		UAPIParam{Key: "name", Value: name})
	if err != nil {
		return false, &ProvisioningError{Resource: "database", Err: err}
	}

	p.log.Info("database created", "database", name)
	return true, nil
}

// EnsureUser creates the database user unless it already exists.
//
// The password reaches only the create call, marked sensitive so it is
// excluded from every log sink, and is not retained here.
func (p *Provisioner) EnsureUser(ctx context.Context, name, password string) (bool, error) {
	existing, err := p.api.ListField(ctx, "Mysql", "list_users", "user")
	if err != nil {
		return false, &ProvisioningError{Resource: "user", Err: err}
	}

	if slices.Contains(existing, name) {
		p.log.Info("database user already exists", "user", name)
		return false, nil
	}

	_, err = p.api.Call(ctx, "Mysql", "create_user",
		UAPIParam{Key: "name", Value: name},
		UAPIParam{Key: "password", Value: password, Sensitive: true})
	if err != nil {
		return false, &ProvisioningError{Resource: "user", Err: err}
	}

	p.log.Info("database user created", "user", name)
	return true, nil
}

// EnsurePrivileges grants ALL PRIVILEGES on database to user unless the
// grant is already present.
func (p *Provisioner) EnsurePrivileges(ctx context.Context, user, database string) (bool, error) {
	granted, err := p.api.ListStrings(ctx, "Mysql", "get_privileges_on_database",
		UAPIParam{Key: "user", Value: user},
		UAPIParam{Key: "database", Value: database})
	if err != nil {
		return false, &ProvisioningError{Resource: "privileges", Err: err}
	}

	if slices.Contains(granted, allPrivileges) {
		p.log.Info("privileges already granted", "user", user, "database", database)
		return false, nil
	}

	_, err = p.api.Call(ctx, "Mysql", "set_privileges_on_database",
		UAPIParam{Key: "user", Value: user},
		UAPIParam{Key: "database", Value: database},
		UAPIParam{Key: "privileges", Value: allPrivileges})
	if err != nil {
		return false, &ProvisioningError{Resource: "privileges", Err: err}
	}

	p.log.Info("privileges granted", "user", user, "database", database)
	return true, nil
}
