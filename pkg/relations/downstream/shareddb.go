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
	"sort"
	"strconv"
	"strings"

	"github.com/bitpoke/mysql-router-operator/pkg/internal/mysql"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

const (
	// LegacyEndpoint is the name of the deprecated mysql-shared endpoint
	LegacyEndpoint = "shared-db"
	// PeerEndpoint is the peer relation holding the generated passwords
	PeerEndpoint = "mysql-router-peers"

	slotPrefix      = "deprecated_shared_db_relation_"
	legacyDBHost    = constants.LoopbackAddress
	legacyWaitTime  = "3600"
	deprecatedNotes = "'mysql-shared' interface deprecated"
)

// SharedDB is the deprecated shared-db endpoint. The leader creates the user
// and keeps the password in the peer databag so that every unit publishes
// the same credentials to its principal.
type SharedDB struct {
	model  *juju.Model
	leader bool
	rels   []*juju.Relation
	peer   *juju.Relation
}

type legacyRequest struct {
	rel      *juju.Relation
	database string
	username string
}

// NewSharedDB loads the shared-db endpoint
func NewSharedDB(m *juju.Model) (*SharedDB, error) {
	rels, err := m.Relations(LegacyEndpoint)
	if err != nil {
		return nil, err
	}
	peer, err := m.Relation(PeerEndpoint)
	if err != nil {
		return nil, err
	}
	leader, err := m.IsLeader()
	if err != nil {
		return nil, err
	}
	return &SharedDB{model: m, leader: leader, rels: rels, peer: peer}, nil
}

func slotKey(relationID int, field string) string {
	return fmt.Sprintf("%s%d.%s", slotPrefix, relationID, field)
}

// request returns nil when the principal has not asked for a database yet
func (s *SharedDB) request(rel *juju.Relation) (*legacyRequest, error) {
	if rel.IsBreaking() || len(rel.Units) == 0 {
		return nil, nil
	}
	bag, err := rel.RemoteUnit(rel.Units[0])
	if err != nil {
		return nil, err
	}
	if bag.Get("database") == "" || bag.Get("username") == "" {
		return nil, nil
	}
	return &legacyRequest{rel: rel, database: bag.Get("database"), username: bag.Get("username")}, nil
}

// ReconcileUsers implements UserManager. The leader manages the users and
// every unit publishes the credentials to its principal.
func (s *SharedDB) ReconcileUsers(ctx context.Context, shell Shell, _ string, _ Endpoints) error {
	if s.peer == nil {
		// the peer relation is needed to share passwords
		return nil
	}
	slots, err := s.peer.LocalApp()
	if err != nil {
		return err
	}

	requested := map[int]*legacyRequest{}
	for _, rel := range s.rels {
		req, err := s.request(rel)
		if err != nil {
			return err
		}
		if req != nil {
			requested[rel.ID] = req
		}
	}

	if s.leader {
		if err = s.reconcileSlots(ctx, shell, slots, requested); err != nil {
			return err
		}
	}

	for _, rel := range s.rels {
		local, err := rel.LocalUnit()
		if err != nil {
			return err
		}
		req := requested[rel.ID]
		password := slots.Get(slotKey(rel.ID, "password"))
		if req == nil || password == "" {
			if err = local.Clear(); err != nil {
				return err
			}
			continue
		}
		err = local.Set(map[string]string{
			"allowed_units": strings.Join(rel.Units, " "),
			"db_host":       legacyDBHost,
			"db_port":       strconv.Itoa(constants.MysqlPort),
			"wait_timeout":  legacyWaitTime,
			"password":      password,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// createdSlots returns the relation ids that have a password slot
func createdSlots(slots *juju.Databag) map[int]string {
	created := map[int]string{}
	for _, key := range slots.Keys() {
		if !strings.HasPrefix(key, slotPrefix) || !strings.HasSuffix(key, ".password") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, slotPrefix), ".password"))
		if err != nil {
			continue
		}
		created[id] = slots.Get(slotKey(id, "username"))
	}
	return created
}

func (s *SharedDB) reconcileSlots(ctx context.Context, shell Shell, slots *juju.Databag, requested map[int]*legacyRequest) error {
	created := createdSlots(slots)

	for _, rel := range s.rels {
		id, req := rel.ID, requested[rel.ID]
		if req == nil {
			continue
		}
		if _, ok := created[id]; ok {
			continue
		}
		if err := mysql.ValidateIdentifier(req.database); err != nil {
			return err
		}
		if err := mysql.ValidateIdentifier(req.username); err != nil {
			return err
		}
		log.Info("creating user for deprecated relation", "relation", id, "app", req.rel.App, "user", req.username)
		password, err := shell.CreateApplicationDatabaseAndUser(ctx, req.username, req.database)
		if err != nil {
			return err
		}
		err = slots.Set(map[string]string{
			slotKey(id, "password"): password,
			slotKey(id, "username"): req.username,
		})
		if err != nil {
			return err
		}
	}

	ids := make([]int, 0, len(created))
	for id := range created {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if _, ok := requested[id]; ok {
			continue
		}
		username := created[id]
		log.Info("deleting user of deprecated relation", "relation", id, "user", username)
		if username != "" {
			if err := shell.DeleteUser(ctx, username, false); err != nil {
				return err
			}
		}
		if err := slots.Delete(slotKey(id, "password"), slotKey(id, "username")); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllDatabags implements UserManager
func (s *SharedDB) DeleteAllDatabags() error {
	for _, rel := range s.rels {
		local, err := rel.LocalUnit()
		if err != nil {
			return err
		}
		if err = local.Clear(); err != nil {
			return err
		}
	}

	if !s.leader || s.peer == nil {
		return nil
	}
	slots, err := s.peer.LocalApp()
	if err != nil {
		return err
	}
	keys := []string{}
	for _, key := range slots.Keys() {
		if strings.HasPrefix(key, slotPrefix) {
			keys = append(keys, key)
		}
	}
	return slots.Delete(keys...)
}

// Status implements UserManager. It is nil when there is no shared-db relation.
func (s *SharedDB) Status() (*juju.Status, error) {
	active := false
	for _, rel := range s.rels {
		if rel.IsBreaking() {
			continue
		}
		active = true
		req, err := s.request(rel)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return (&juju.IncompleteDatabagError{App: rel.App, Endpoint: LegacyEndpoint}).Status(), nil
		}
	}
	if !active {
		return nil, nil
	}
	return juju.ActiveStatus(deprecatedNotes), nil
}
