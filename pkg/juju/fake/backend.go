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

package fake

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

// Relation is an in-memory relation
type Relation struct {
	ID        int
	Endpoint  string
	RemoteApp string
	Units     []string

	// app databags are keyed by application name, unit databags by unit name
	AppData  map[string]map[string]string
	UnitData map[string]map[string]string
}

// Backend is an in-memory juju.Backend that can be used in tests
type Backend struct {
	lock sync.Mutex

	UnitName string
	AppName  string
	Leader   bool

	Relations     map[int]*Relation
	Config        map[string]interface{}
	Secrets       map[string]map[string]string
	SharedSecrets map[string]map[string]string
	State         map[string]string
	Ports         map[int]bool
	Address       string

	ActionParams  map[string]interface{}
	ActionResults map[string]string
	ActionFailure string

	UnitStatus *juju.Status
	AppStatus  *juju.Status
	Version    string

	// RelationWrites counts the relation-set calls
	RelationWrites int
}

var _ juju.Backend = &Backend{}

// NewBackend returns an empty model for the given unit
func NewBackend(unit string) *Backend {
	return &Backend{
		UnitName:      unit,
		AppName:       strings.SplitN(unit, "/", 2)[0],
		Relations:     map[int]*Relation{},
		Config:        map[string]interface{}{},
		Secrets:       map[string]map[string]string{},
		SharedSecrets: map[string]map[string]string{},
		State:         map[string]string{},
		Ports:         map[int]bool{},
		Address:       "10.1.2.3",
		ActionParams:  map[string]interface{}{},
		ActionResults: map[string]string{},
	}
}

// AddRelation adds a relation with the given remote app and units
func (b *Backend) AddRelation(endpoint string, id int, app string, units ...string) *Relation {
	b.lock.Lock()
	defer b.lock.Unlock()

	rel := &Relation{
		ID:        id,
		Endpoint:  endpoint,
		RemoteApp: app,
		Units:     units,
		AppData:   map[string]map[string]string{},
		UnitData:  map[string]map[string]string{},
	}
	b.Relations[id] = rel
	return rel
}

// RemoveRelation drops a relation
func (b *Backend) RemoveRelation(id int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.Relations, id)
}

// SetApp sets keys in an app databag
func (r *Relation) SetApp(app string, values map[string]string) *Relation {
	setBag(r.AppData, app, values)
	return r
}

// SetUnit sets keys in a unit databag
func (r *Relation) SetUnit(unit string, values map[string]string) *Relation {
	setBag(r.UnitData, unit, values)
	return r
}

// App returns a copy of an app databag
func (r *Relation) App(app string) map[string]string {
	return copyBag(r.AppData[app])
}

// Unit returns a copy of a unit databag
func (r *Relation) Unit(unit string) map[string]string {
	return copyBag(r.UnitData[unit])
}

func setBag(bags map[string]map[string]string, owner string, values map[string]string) {
	bag, ok := bags[owner]
	if !ok {
		bag = map[string]string{}
		bags[owner] = bag
	}
	for k, v := range values {
		if v == "" {
			delete(bag, k)
		} else {
			bag[k] = v
		}
	}
}

func copyBag(bag map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range bag {
		out[k] = v
	}
	return out
}

func (b *Backend) relation(id int) (*Relation, error) {
	rel, ok := b.Relations[id]
	if !ok {
		return nil, fmt.Errorf("relation %d not found", id)
	}
	return rel, nil
}

// RelationIDs implements juju.Backend
func (b *Backend) RelationIDs(endpoint string) ([]int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	ids := []int{}
	for id, rel := range b.Relations {
		if rel.Endpoint == endpoint {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// RelationRemoteApp implements juju.Backend
func (b *Backend) RelationRemoteApp(id int) (string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rel, err := b.relation(id)
	if err != nil {
		return "", err
	}
	return rel.RemoteApp, nil
}

// RelationUnits implements juju.Backend
func (b *Backend) RelationUnits(id int) ([]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rel, err := b.relation(id)
	if err != nil {
		return nil, err
	}
	return append([]string{}, rel.Units...), nil
}

// RelationGet implements juju.Backend
func (b *Backend) RelationGet(id int, owner string, app bool) (map[string]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rel, err := b.relation(id)
	if err != nil {
		return nil, err
	}
	if app {
		if owner == b.AppName && !b.Leader && rel.RemoteApp != b.AppName {
			return nil, fmt.Errorf("permission denied reading app databag of %s", owner)
		}
		return copyBag(rel.AppData[owner]), nil
	}
	return copyBag(rel.UnitData[owner]), nil
}

// RelationSet implements juju.Backend
func (b *Backend) RelationSet(id int, app bool, values map[string]string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	rel, err := b.relation(id)
	if err != nil {
		return err
	}

	b.RelationWrites++
	if app {
		if !b.Leader {
			return fmt.Errorf("permission denied writing app databag of %s", b.AppName)
		}
		setBag(rel.AppData, b.AppName, values)
		return nil
	}
	setBag(rel.UnitData, b.UnitName, values)
	return nil
}

// IsLeader implements juju.Backend
func (b *Backend) IsLeader() (bool, error) {
	return b.Leader, nil
}

// StatusSet implements juju.Backend
func (b *Backend) StatusSet(app bool, status juju.Status) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if app {
		if !b.Leader {
			return errors.New("only the leader can set the application status")
		}
		b.AppStatus = &status
		return nil
	}
	b.UnitStatus = &status
	return nil
}

// ApplicationVersionSet implements juju.Backend
func (b *Backend) ApplicationVersionSet(version string) error {
	b.Version = version
	return nil
}

// ConfigGet implements juju.Backend
func (b *Backend) ConfigGet() (map[string]interface{}, error) {
	return b.Config, nil
}

// SecretGet implements juju.Backend
func (b *Backend) SecretGet(label string) (map[string]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	content, ok := b.Secrets[label]
	if !ok {
		return nil, juju.ErrSecretNotFound
	}
	return copyBag(content), nil
}

// SecretGetByID implements juju.Backend
func (b *Backend) SecretGetByID(id string) (map[string]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	content, ok := b.SharedSecrets[id]
	if !ok {
		return nil, juju.ErrSecretNotFound
	}
	return copyBag(content), nil
}

// SecretAdd implements juju.Backend
func (b *Backend) SecretAdd(label string, content map[string]string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.Secrets[label]; ok {
		return fmt.Errorf("secret with label %s already exists", label)
	}
	b.Secrets[label] = copyBag(content)
	return nil
}

// SecretSet implements juju.Backend
func (b *Backend) SecretSet(label string, content map[string]string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.Secrets[label]; !ok {
		return juju.ErrSecretNotFound
	}
	b.Secrets[label] = copyBag(content)
	return nil
}

// SecretRemove implements juju.Backend
func (b *Backend) SecretRemove(label string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.Secrets[label]; !ok {
		return juju.ErrSecretNotFound
	}
	delete(b.Secrets, label)
	return nil
}

// ActionGet implements juju.Backend
func (b *Backend) ActionGet() (map[string]interface{}, error) {
	return b.ActionParams, nil
}

// ActionSet implements juju.Backend
func (b *Backend) ActionSet(results map[string]string) error {
	for k, v := range results {
		b.ActionResults[k] = v
	}
	return nil
}

// ActionFail implements juju.Backend
func (b *Backend) ActionFail(message string) error {
	b.ActionFailure = message
	return nil
}

// OpenPort implements juju.Backend
func (b *Backend) OpenPort(port int) error {
	b.Ports[port] = true
	return nil
}

// ClosePort implements juju.Backend
func (b *Backend) ClosePort(port int) error {
	delete(b.Ports, port)
	return nil
}

// OpenedPorts implements juju.Backend
func (b *Backend) OpenedPorts() ([]int, error) {
	ports := []int{}
	for p := range b.Ports {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// IngressAddress implements juju.Backend
func (b *Backend) IngressAddress(string) (string, error) {
	return b.Address, nil
}

// StateGet implements juju.Backend
func (b *Backend) StateGet() (map[string]string, error) {
	return copyBag(b.State), nil
}

// StateSet implements juju.Backend
func (b *Backend) StateSet(values map[string]string) error {
	for k, v := range values {
		if v == "" {
			delete(b.State, k)
		} else {
			b.State[k] = v
		}
	}
	return nil
}

// Env returns a hook environment for this unit dispatched at the given path
func (b *Backend) Env(dispatchPath string) *juju.HookEnv {
	return &juju.HookEnv{
		DispatchPath: dispatchPath,
		UnitName:     b.UnitName,
		ModelName:    "test-model",
		CharmDir:     "/var/lib/juju/agents/unit/charm",
	}
}

// RelationEnv returns a hook environment for a relation event
func (b *Backend) RelationEnv(hook string, relationID int) *juju.HookEnv {
	env := b.Env("hooks/" + hook)
	if rel, ok := b.Relations[relationID]; ok {
		env.Relation = rel.Endpoint
		env.RemoteApp = rel.RemoteApp
	}
	env.RelationID = fmt.Sprintf("%d", relationID)
	return env
}

// Model returns a model for the unit handling the given event
func (b *Backend) Model(env *juju.HookEnv) *juju.Model {
	m, err := juju.NewModel(b, env)
	if err != nil {
		panic(err)
	}
	return m
}
