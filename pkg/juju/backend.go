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
	"errors"
)

// ErrSecretNotFound is returned when a secret with the given label does not exist
var ErrSecretNotFound = errors.New("secret not found")

// Backend is the set of hook tools the operator relies on. All calls are
// scoped to the current unit and hook.
type Backend interface {
	// RelationIDs returns the ids of the relations established on an endpoint
	RelationIDs(endpoint string) ([]int, error)
	// RelationRemoteApp returns the application on the other side of a relation
	RelationRemoteApp(relationID int) (string, error)
	// RelationUnits returns the remote units that joined a relation
	RelationUnits(relationID int) ([]string, error)
	// RelationGet reads the databag owned by a unit, or by an app when app is true
	RelationGet(relationID int, owner string, app bool) (map[string]string, error)
	// RelationSet writes keys in the local unit or app databag; empty values delete keys
	RelationSet(relationID int, app bool, values map[string]string) error

	IsLeader() (bool, error)
	StatusSet(app bool, status Status) error
	ApplicationVersionSet(version string) error
	ConfigGet() (map[string]interface{}, error)

	// SecretGet returns the content of an owned secret or ErrSecretNotFound
	SecretGet(label string) (map[string]string, error)
	// SecretGetByID reads a secret shared by another application
	SecretGetByID(id string) (map[string]string, error)
	SecretAdd(label string, content map[string]string) error
	SecretSet(label string, content map[string]string) error
	SecretRemove(label string) error

	ActionGet() (map[string]interface{}, error)
	ActionSet(results map[string]string) error
	ActionFail(message string) error

	OpenPort(port int) error
	ClosePort(port int) error
	OpenedPorts() ([]int, error)

	// IngressAddress returns the address other units should use to reach this one
	IngressAddress(binding string) (string, error)

	StateGet() (map[string]string, error)
	StateSet(values map[string]string) error
}
