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

package downstream

import (
	"context"
	"fmt"

	"github.com/bitpoke/mysql-router-operator/pkg/internal/mysql"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

// Endpoint is the name of the modern downstream endpoint
const Endpoint = "database"

// Database is the database endpoint
type Database struct {
	model  *juju.Model
	leader bool
	rels   []*juju.Relation
}

// request is what a related application asked for
type request struct {
	rel      *juju.Relation
	database string
	// unsupported is set when extra user roles were requested
	unsupported bool
	external    bool
}

// NewDatabase loads the database endpoint
func NewDatabase(m *juju.Model) (*Database, error) {
	rels, err := m.Relations(Endpoint)
	if err != nil {
		return nil, err
	}
	leader, err := m.IsLeader()
	if err != nil {
		return nil, err
	}
	return &Database{model: m, leader: leader, rels: rels}, nil
}

func (d *Database) active() []*juju.Relation {
	rels := []*juju.Relation{}
	for _, rel := range d.rels {
		if !rel.IsBreaking() {
			rels = append(rels, rel)
		}
	}
	return rels
}

// request returns nil when the relation has not requested a database yet
func (d *Database) request(rel *juju.Relation) (*request, error) {
	if rel.IsBreaking() {
		return nil, nil
	}
	bag, err := rel.RemoteApp()
	if err != nil {
		return nil, err
	}
	if bag.Get("database") == "" {
		return nil, nil
	}
	return &request{
		rel:         rel,
		database:    bag.Get("database"),
		unsupported: bag.Get("extra-user-roles") != "",
		external:    bag.Get("external-node-connectivity") == "true",
	}, nil
}

// Missing returns true when no application is related on the endpoint
func (d *Database) Missing() bool {
	return len(d.active()) == 0
}

// ExternalConnectivity returns true when a client asked to connect from outside the host
func (d *Database) ExternalConnectivity() (bool, error) {
	for _, rel := range d.active() {
		req, err := d.request(rel)
		if err != nil {
			return false, err
		}
		if req != nil && req.external {
			return true, nil
		}
	}
	return false, nil
}

// Username returns the user created for the relation, unique across models
func Username(upstreamUser string, relationID int) string {
	return fmt.Sprintf("%s-%d", upstreamUser, relationID)
}

// ReconcileUsers implements UserManager. Only the leader manages users.
func (d *Database) ReconcileUsers(ctx context.Context, shell Shell, upstreamUser string, endpoints Endpoints) error {
	if !d.leader {
		return nil
	}

	for _, rel := range d.rels {
		req, err := d.request(rel)
		if err != nil {
			return err
		}
		local, err := rel.LocalApp()
		if err != nil {
			return err
		}

		requested := req != nil && !req.unsupported
		created := local.Get("password") != ""

		switch {
		case requested && !created:
			if err = mysql.ValidateIdentifier(req.database); err != nil {
				return err
			}
			username := Username(upstreamUser, rel.ID)
			log.Info("creating user for relation", "relation", rel.ID, "app", rel.App, "user", username)
			password, err := shell.CreateApplicationDatabaseAndUser(ctx, username, req.database)
			if err != nil {
				return err
			}
			err = local.Set(map[string]string{
				"database":            req.database,
				"username":            username,
				"password":            password,
				"endpoints":           endpoints.ReadWrite,
				"read-only-endpoints": endpoints.ReadOnly,
			})
			if err != nil {
				return err
			}
		case requested && created:
			// the router address changes with the connectivity mode
			err = local.Set(map[string]string{
				"endpoints":           endpoints.ReadWrite,
				"read-only-endpoints": endpoints.ReadOnly,
			})
			if err != nil {
				return err
			}
		case !requested && created:
			username := local.Get("username")
			log.Info("deleting user of relation", "relation", rel.ID, "app", rel.App, "user", username)
			if err = shell.DeleteUser(ctx, username, false); err != nil {
				return err
			}
			if err = local.Clear(); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteAllDatabags implements UserManager
func (d *Database) DeleteAllDatabags() error {
	if !d.leader {
		return nil
	}
	for _, rel := range d.rels {
		local, err := rel.LocalApp()
		if err != nil {
			return err
		}
		if err = local.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// Status implements UserManager
func (d *Database) Status() (*juju.Status, error) {
	if d.Missing() {
		return juju.BlockedStatus("Missing relation: " + Endpoint), nil
	}

	var incomplete *juju.Status
	for _, rel := range d.active() {
		req, err := d.request(rel)
		if err != nil {
			return nil, err
		}
		switch {
		case req == nil:
			if incomplete == nil {
				incomplete = (&juju.IncompleteDatabagError{App: rel.App, Endpoint: Endpoint}).Status()
			}
		case req.unsupported:
			return juju.BlockedStatus(fmt.Sprintf("%s app requested unsupported extra user role on %s endpoint",
				rel.App, Endpoint)), nil
		}
	}
	return incomplete, nil
}
