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
	"github.com/pkg/errors"
)

// SecretStore is a unit owned secret used as a key-value store. Values are
// never logged.
type SecretStore struct {
	backend Backend
	label   string

	loaded  bool
	exists  bool
	content map[string]string
}

// UnitSecrets returns the secret store of this unit with the given scope
func (m *Model) UnitSecrets(scope string) *SecretStore {
	label := m.AppName + "." + scope
	if s, ok := m.secrets[label]; ok {
		return s
	}

	s := &SecretStore{backend: m.backend, label: label}
	m.secrets[label] = s
	return s
}

func (s *SecretStore) load() error {
	if s.loaded {
		return nil
	}

	content, err := s.backend.SecretGet(s.label)
	switch {
	case errors.Is(err, ErrSecretNotFound):
		content = map[string]string{}
	case err != nil:
		return errors.Wrapf(err, "failed to read secret %s", s.label)
	default:
		s.exists = true
	}

	s.content = content
	s.loaded = true
	return nil
}

// Get returns a value from the store or empty string if missing
func (s *SecretStore) Get(key string) (string, error) {
	if err := s.load(); err != nil {
		return "", err
	}
	return s.content[key], nil
}

// Set merges values into the store, empty values delete keys
func (s *SecretStore) Set(values map[string]string) error {
	if err := s.load(); err != nil {
		return err
	}

	content := map[string]string{}
	for k, v := range s.content {
		content[k] = v
	}
	changed := false
	for k, v := range values {
		if content[k] == v {
			continue
		}
		changed = true
		if v == "" {
			delete(content, k)
		} else {
			content[k] = v
		}
	}
	if !changed {
		return nil
	}

	var err error
	switch {
	case len(content) == 0 && s.exists:
		err = s.backend.SecretRemove(s.label)
		s.exists = false
	case len(content) == 0:
	case s.exists:
		err = s.backend.SecretSet(s.label, content)
	default:
		err = s.backend.SecretAdd(s.label, content)
		s.exists = true
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update secret %s", s.label)
	}

	s.content = content
	return nil
}

// Delete removes keys from the store
func (s *SecretStore) Delete(keys ...string) error {
	values := map[string]string{}
	for _, k := range keys {
		values[k] = ""
	}
	return s.Set(values)
}

// State is the local key-value state of the unit, kept by the controller
// across events
type State struct {
	backend Backend
	data    map[string]string
}

// State returns the local state bag of this unit
func (m *Model) State() (*State, error) {
	if m.state != nil {
		return m.state, nil
	}

	data, err := m.backend.StateGet()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read unit state")
	}
	if data == nil {
		data = map[string]string{}
	}

	m.state = &State{backend: m.backend, data: data}
	return m.state, nil
}

// Get returns a state value
func (s *State) Get(key string) string {
	return s.data[key]
}

// Set writes a state value, an empty value deletes it
func (s *State) Set(key, value string) error {
	if s.data[key] == value {
		return nil
	}
	if err := s.backend.StateSet(map[string]string{key: value}); err != nil {
		return errors.Wrapf(err, "failed to set unit state %s", key)
	}
	if value == "" {
		delete(s.data, key)
	} else {
		s.data[key] = value
	}
	return nil
}
