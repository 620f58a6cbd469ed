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

// Package upstream reads the connection to the MySQL cluster from the
// backend-database relation
package upstream

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var log = logf.Log.WithName("upstream")

// Endpoint is the name of the upstream relation endpoint
const Endpoint = "backend-database"

// ConnectionInfo is the upstream connection published by the MySQL cluster
type ConnectionInfo struct {
	Host     string
	Port     int
	Username string
	Password string
	// HostnameMap maps cluster member hostnames to addresses
	HostnameMap map[string]string
}

// Connection returns the credentials used by MySQL Shell
func (c *ConnectionInfo) Connection() *mysqlsh.Connection {
	return &mysqlsh.Connection{
		Username: c.Username,
		Password: c.Password,
		Host:     c.Host,
		Port:     c.Port,
	}
}

// Relation is the backend-database relation
type Relation struct {
	model *juju.Model
	rel   *juju.Relation
}

// New loads the upstream relation. The leader requests access to the
// cluster metadata database on it.
func New(m *juju.Model) (*Relation, error) {
	rel, err := m.Relation(Endpoint)
	if err != nil {
		return nil, err
	}
	r := &Relation{model: m, rel: rel}

	if rel == nil || rel.IsBreaking() {
		return r, nil
	}

	leader, err := m.IsLeader()
	if err != nil {
		return nil, err
	}
	if leader {
		if err = r.request(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Relation) request() error {
	requested, err := json.Marshal([]string{"username", "password", "tls", "tls-ca", "uris"})
	if err != nil {
		return err
	}

	bag, err := r.rel.LocalApp()
	if err != nil {
		return err
	}
	return bag.Set(map[string]string{
		"database":          constants.ClusterMetadataDatabase,
		"extra-user-roles":  constants.RouterUserRole,
		"requested-secrets": string(requested),
	})
}

// IsBreaking returns true if the current event breaks the relation
func (r *Relation) IsBreaking() bool {
	return r.rel != nil && r.rel.IsBreaking()
}

// Get returns the connection info or nil when the relation is missing,
// breaking or incomplete
func (r *Relation) Get() (*ConnectionInfo, error) {
	info, err := r.get()
	var incomplete *juju.IncompleteDatabagError
	if errors.As(err, &incomplete) {
		log.V(1).Info("upstream databag incomplete", "missing", incomplete.Missing)
		return nil, nil
	}
	return info, err
}

func (r *Relation) get() (*ConnectionInfo, error) {
	if r.rel == nil || r.rel.IsBreaking() {
		return nil, nil
	}

	bag, err := r.rel.RemoteApp()
	if err != nil {
		return nil, err
	}

	info := &ConnectionInfo{
		Username: bag.Get("username"),
		Password: bag.Get("password"),
	}
	if secretID := bag.Get("secret-user"); secretID != "" {
		content, err := r.model.Backend().SecretGetByID(secretID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read upstream user secret")
		}
		info.Username, info.Password = content["username"], content["password"]
	}

	missing := []string{}
	if info.Username == "" {
		missing = append(missing, "username")
	}
	if info.Password == "" {
		missing = append(missing, "password")
	}
	if bag.Get("endpoints") == "" {
		missing = append(missing, "endpoints")
	}
	if len(missing) > 0 {
		return nil, &juju.IncompleteDatabagError{App: r.rel.App, Endpoint: Endpoint, Missing: missing}
	}

	info.Host, info.Port, err = parseEndpoint(bag.Get("endpoints"))
	if err != nil {
		return nil, err
	}

	if raw := bag.Get("hostname-map"); raw != "" {
		if err = json.Unmarshal([]byte(raw), &info.HostnameMap); err != nil {
			return nil, errors.Wrap(err, "failed to parse upstream hostname-map")
		}
	}
	return info, nil
}

func parseEndpoint(endpoints string) (string, int, error) {
	list := strings.Split(endpoints, ",")
	if len(list) != 1 {
		return "", 0, fmt.Errorf("expected exactly one upstream endpoint, got %q", endpoints)
	}

	host, port, err := net.SplitHostPort(strings.TrimSpace(list[0]))
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid upstream endpoint %q", list[0])
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid upstream endpoint port %q", port)
	}
	return host, p, nil
}

// Status returns the status of the relation or nil when it's ready
func (r *Relation) Status() (*juju.Status, error) {
	if r.rel == nil || r.rel.IsBreaking() {
		return juju.BlockedStatus("Missing relation: " + Endpoint), nil
	}

	_, err := r.get()
	var incomplete *juju.IncompleteDatabagError
	if errors.As(err, &incomplete) {
		return incomplete.Status(), nil
	}
	return nil, err
}
