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

package juju

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/names/v5"
	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("juju")

// Model is the view of the controller state available to one unit during one event
type Model struct {
	backend Backend

	Event     Event
	UnitName  string
	AppName   string
	ModelName string
	CharmDir  string

	ordinal int
	leader  *bool
	config  *Config

	relations map[string][]*Relation
	secrets   map[string]*SecretStore
	state     *State
}

// NewModel returns a model for the unit described by the hook environment
func NewModel(backend Backend, env *HookEnv) (*Model, error) {
	if !names.IsValidUnit(env.UnitName) {
		return nil, fmt.Errorf("invalid unit name %q", env.UnitName)
	}

	event, err := NewEvent(env)
	if err != nil {
		return nil, err
	}

	tag := names.NewUnitTag(env.UnitName)
	app, _ := names.UnitApplication(env.UnitName)

	return &Model{
		backend:   backend,
		Event:     event,
		UnitName:  env.UnitName,
		AppName:   app,
		ModelName: env.ModelName,
		CharmDir:  env.CharmDir,
		ordinal:   tag.Number(),
		relations: map[string][]*Relation{},
		secrets:   map[string]*SecretStore{},
	}, nil
}

// Backend returns the hook tools backend of the model
func (m *Model) Backend() Backend {
	return m.backend
}

// UnitOrdinal returns the number of this unit
func (m *Model) UnitOrdinal() int {
	return m.ordinal
}

// UnitOrdinal returns the number of the given unit name, -1 for invalid names
func UnitOrdinal(unit string) int {
	if !names.IsValidUnit(unit) {
		return -1
	}
	return names.NewUnitTag(unit).Number()
}

// IsLeader returns true if this unit is the application leader
func (m *Model) IsLeader() (bool, error) {
	if m.leader == nil {
		leader, err := m.backend.IsLeader()
		if err != nil {
			return false, errors.Wrap(err, "failed to check leadership")
		}
		m.leader = &leader
	}
	return *m.leader, nil
}

// SetUnitStatus reports the unit status
func (m *Model) SetUnitStatus(s *Status) error {
	log.V(1).Info("setting unit status", "status", s.String())
	return m.backend.StatusSet(false, *s)
}

// SetAppStatus reports the application status, only the leader may do it
func (m *Model) SetAppStatus(s *Status) error {
	log.V(1).Info("setting app status", "status", s.String())
	return m.backend.StatusSet(true, *s)
}

// Relations returns the relations established on the given endpoint sorted by id
func (m *Model) Relations(endpoint string) ([]*Relation, error) {
	if rels, ok := m.relations[endpoint]; ok {
		return rels, nil
	}

	ids, err := m.backend.RelationIDs(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list relations on %s", endpoint)
	}

	rels := []*Relation{}
	for _, id := range ids {
		rel, err := m.newRelation(endpoint, id)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })

	m.relations[endpoint] = rels
	return rels, nil
}

// Relation returns the single relation of an endpoint or nil if there is none
func (m *Model) Relation(endpoint string) (*Relation, error) {
	rels, err := m.Relations(endpoint)
	if err != nil {
		return nil, err
	}

	switch len(rels) {
	case 0:
		return nil, nil
	case 1:
		return rels[0], nil
	default:
		return nil, fmt.Errorf("expected at most one relation on %s, got %d", endpoint, len(rels))
	}
}

func (m *Model) newRelation(endpoint string, id int) (*Relation, error) {
	app, err := m.backend.RelationRemoteApp(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get remote app of relation %d", id)
	}
	units, err := m.backend.RelationUnits(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list units of relation %d", id)
	}
	sort.Slice(units, func(i, j int) bool { return UnitOrdinal(units[i]) < UnitOrdinal(units[j]) })

	return &Relation{
		ID:       id,
		Endpoint: endpoint,
		App:      app,
		Units:    units,
		model:    m,
		bags:     map[string]*Databag{},
	}, nil
}

// Config is the charm configuration
type Config struct {
	VIP string
}

// Config returns the charm configuration
func (m *Model) Config() (*Config, error) {
	if m.config != nil {
		return m.config, nil
	}

	raw, err := m.backend.ConfigGet()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	cfg := &Config{}
	if vip, ok := raw["vip"].(string); ok {
		cfg.VIP = strings.TrimSpace(vip)
	}

	m.config = cfg
	return cfg, nil
}

// Relation is a relation between this application and another one (or
// itself for peer relations)
type Relation struct {
	ID       int
	Endpoint string
	// App is the remote application
	App   string
	Units []string

	model *Model
	bags  map[string]*Databag
}

func (r *Relation) databag(owner string, app, writable bool) (*Databag, error) {
	key := fmt.Sprintf("%s/%t", owner, app)
	if bag, ok := r.bags[key]; ok {
		return bag, nil
	}

	bag := &Databag{
		backend:    r.model.backend,
		relationID: r.ID,
		owner:      owner,
		app:        app,
		writable:   writable,
	}
	if err := bag.Load(); err != nil {
		return nil, err
	}

	r.bags[key] = bag
	return bag, nil
}

// LocalUnit returns the databag of this unit
func (r *Relation) LocalUnit() (*Databag, error) {
	return r.databag(r.model.UnitName, false, true)
}

// LocalApp returns the databag of this application. It is writable only by
// the leader and readable by other units only on peer relations.
func (r *Relation) LocalApp() (*Databag, error) {
	leader, err := r.model.IsLeader()
	if err != nil {
		return nil, err
	}
	return r.databag(r.model.AppName, true, leader)
}

// RemoteApp returns the databag of the remote application
func (r *Relation) RemoteApp() (*Databag, error) {
	return r.databag(r.App, true, false)
}

// RemoteUnit returns the databag of a remote unit
func (r *Relation) RemoteUnit(unit string) (*Databag, error) {
	return r.databag(unit, false, false)
}

// IsBreaking returns true if the current event breaks this relation
func (r *Relation) IsBreaking() bool {
	return r.model.Event.Breaks(r.ID)
}

// Address returns the ingress address of this unit on the given binding
func (m *Model) Address(binding string) (string, error) {
	addr, err := m.backend.IngressAddress(binding)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get the ingress address of %s", binding)
	}
	return addr, nil
}

// SetWorkloadVersion reports the version of the workload
func (m *Model) SetWorkloadVersion(version string) error {
	return m.backend.ApplicationVersionSet(version)
}

// SetOpenedPorts opens the given TCP ports and closes every other port
func (m *Model) SetOpenedPorts(ports ...int) error {
	opened, err := m.backend.OpenedPorts()
	if err != nil {
		return errors.Wrap(err, "failed to list opened ports")
	}

	wanted := map[int]bool{}
	for _, p := range ports {
		wanted[p] = true
	}
	for _, p := range opened {
		if wanted[p] {
			delete(wanted, p)
			continue
		}
		log.Info("closing port", "port", p)
		if err = m.backend.ClosePort(p); err != nil {
			return errors.Wrapf(err, "failed to close port %d", p)
		}
	}
	for _, p := range ports {
		if !wanted[p] {
			continue
		}
		log.Info("opening port", "port", p)
		if err = m.backend.OpenPort(p); err != nil {
			return errors.Wrapf(err, "failed to open port %d", p)
		}
	}
	return nil
}
