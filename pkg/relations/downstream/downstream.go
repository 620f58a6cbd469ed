/*
Copyright 2026 Pressinfra SRL

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package downstream manages the users and connection details handed to the
// applications related on the database and shared-db endpoints
package downstream

import (
	"context"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

var log = logf.Log.WithName("downstream")

// Endpoints are the router addresses published to clients
type Endpoints struct {
	ReadWrite string
	ReadOnly  string
}

// Shell is the part of the upstream cluster interface used to manage users
type Shell interface {
	CreateApplicationDatabaseAndUser(ctx context.Context, username, database string) (string, error)
	DeleteUser(ctx context.Context, username string, mustExist bool) error
}

// UserManager is implemented by both downstream endpoints
type UserManager interface {
	// ReconcileUsers creates the users requested and not created yet and
	// deletes the ones not requested anymore
	ReconcileUsers(ctx context.Context, shell Shell, upstreamUser string, endpoints Endpoints) error
	// DeleteAllDatabags revokes every published credential
	DeleteAllDatabags() error
	// Status returns nil when there is nothing to report
	Status() (*juju.Status, error)
}

// Relations composes the database and shared-db endpoints
type Relations struct {
	Database *Database
	SharedDB *SharedDB
}

var (
	_ UserManager = &Database{}
	_ UserManager = &SharedDB{}
)

// New loads both downstream endpoints
func New(m *juju.Model) (*Relations, error) {
	db, err := NewDatabase(m)
	if err != nil {
		return nil, err
	}
	shared, err := NewSharedDB(m)
	if err != nil {
		return nil, err
	}
	return &Relations{Database: db, SharedDB: shared}, nil
}

func (r *Relations) managers() []UserManager {
	return []UserManager{r.Database, r.SharedDB}
}

// ReconcileUsers reconciles the users of both endpoints
func (r *Relations) ReconcileUsers(ctx context.Context, shell Shell, upstreamUser string, endpoints Endpoints) error {
	for _, m := range r.managers() {
		if err := m.ReconcileUsers(ctx, shell, upstreamUser, endpoints); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllDatabags revokes the credentials published on both endpoints
func (r *Relations) DeleteAllDatabags() error {
	for _, m := range r.managers() {
		if err := m.DeleteAllDatabags(); err != nil {
			return err
		}
	}
	return nil
}

// ExternalConnectivity returns true when a client asked to connect from outside the host
func (r *Relations) ExternalConnectivity() (bool, error) {
	return r.Database.ExternalConnectivity()
}

// Status merges the status of both endpoints. A shared-db relation hides
// the missing database relation.
func (r *Relations) Status() (*juju.Status, error) {
	modern, err := r.Database.Status()
	if err != nil {
		return nil, err
	}
	legacy, err := r.SharedDB.Status()
	if err != nil {
		return nil, err
	}

	if legacy != nil && r.Database.Missing() {
		return legacy, nil
	}
	if modern != nil {
		return modern, nil
	}
	return legacy, nil
}
