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
	"slices"

	"github.com/AleutianAI/PanelDeploy/pkg/logging"
)

// AppSpec describes the application to register with the hosting
// platform's process manager (Passenger).
type AppSpec struct {
	// Name identifies the application within the account.
	Name string

	// Path is the application directory relative to the account home.
	Path string

	// Domain is the vhost the application serves.
	Domain string

	// BaseURI is the mount point, normally "/".
	BaseURI string

	// Mode is the deployment mode ("production" or "development").
	Mode string

	// Env is the runtime environment injected into the application.
	// Sensitive entries make the whole call output-suppressed.
	Env *EnvVars
}

// Registrar performs idempotent create-or-update registration of the
// application.
//
// # Description
//
// Lists registered applications first; registers when absent, updates
// when present. Both calls receive the full attribute set including
// every environment variable as a stable (name, value) pair, so an
// update always converges the remote registration to the desired state.
// The environment payload contains secrets, so neither call's response
// is ever logged.
type Registrar struct {
	api *UAPIClient
	log *logging.Logger
}

// NewRegistrar creates a registrar over the given API client.
func NewRegistrar(api *UAPIClient, log *logging.Logger) *Registrar {
	return &Registrar{api: api, log: log}
}

// RegisterOrUpdate converges the remote registration to app.
// Returns whether a fresh registration (as opposed to an update) was
// performed.
func (r *Registrar) RegisterOrUpdate(ctx context.Context, app AppSpec) (bool, error) {
	names, err := r.api.ListField(ctx, "PassengerApps", "list_applications", "name")
	if err != nil {
		return false, &RegistrationError{App: app.Name, Err: err}
	}

	params := r.appParams(app)

	function := "register_application"
	fresh := true
	if slices.Contains(names, app.Name) {
		function = "edit_application"
		fresh = false
	}

	if _, err := r.api.Call(ctx, "PassengerApps", function, params...); err != nil {
		return false, &RegistrationError{App: app.Name, Err: err}
	}

	r.log.Info("application registered",
		"app", app.Name, "fresh", fresh, "env", app.Env.RedactedSlice())
	return fresh, nil
}

// appParams encodes the full attribute set. Environment variables are
// sorted by key so repeated runs produce identical payloads.
func (r *Registrar) appParams(app AppSpec) []UAPIParam {
	params := []UAPIParam{
		{Key: "name", Value: app.Name},
		{Key: "path", Value: app.Path},
		{Key: "domain", Value: app.Domain},
		{Key: "base_uri", Value: app.BaseURI},
		{Key: "deployment_mode", Value: app.Mode},
	}

	for i, ev := range app.Env.Sorted() {
		params = append(params,
			UAPIParam{Key: fmt.Sprintf("envvar_name-%d", i+1), Value: ev.Key},
			UAPIParam{Key: fmt.Sprintf("envvar_value-%d", i+1), Value: ev.Value, Sensitive: ev.Sensitive},
		)
	}
	return params
}
