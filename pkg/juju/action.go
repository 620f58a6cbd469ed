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

	"github.com/pkg/errors"
)

// Action is the action the unit is running
type Action struct {
	Name   string
	params map[string]interface{}
	model  *Model
}

// Action returns the running action or nil if the unit runs a hook
func (m *Model) Action() (*Action, error) {
	if !m.Event.IsAction() {
		return nil, nil
	}

	params, err := m.backend.ActionGet()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read action params")
	}

	return &Action{Name: m.Event.Name, params: params, model: m}, nil
}

// BoolParam returns a boolean parameter, false when unset
func (a *Action) BoolParam(name string) (bool, error) {
	v, ok := a.params[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("action parameter %s must be a boolean", name)
	}
	return b, nil
}

// StringParam returns a string parameter, empty when unset
func (a *Action) StringParam(name string) (string, error) {
	v, ok := a.params[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("action parameter %s must be a string", name)
	}
	return s, nil
}

// Fail marks the action as failed with the given message
func (a *Action) Fail(message string) error {
	log.Info("action failed", "action", a.Name, "message", message)
	return a.model.backend.ActionFail(message)
}

// SetResult sets the result of the action
func (a *Action) SetResult(message string) error {
	return a.model.backend.ActionSet(map[string]string{"result": message})
}
