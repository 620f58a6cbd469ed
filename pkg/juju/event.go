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
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// EventKind classifies the event the unit was dispatched for
type EventKind string

// nolint: golint
const (
	EventInstall          EventKind = "install"
	EventStart            EventKind = "start"
	EventStop             EventKind = "stop"
	EventRemove           EventKind = "remove"
	EventUpgradeCharm     EventKind = "upgrade-charm"
	EventConfigChanged    EventKind = "config-changed"
	EventLeaderElected    EventKind = "leader-elected"
	EventLeaderSettings   EventKind = "leader-settings-changed"
	EventUpdateStatus     EventKind = "update-status"
	EventSecretChanged    EventKind = "secret-changed"
	EventRelationCreated  EventKind = "relation-created"
	EventRelationJoined   EventKind = "relation-joined"
	EventRelationChanged  EventKind = "relation-changed"
	EventRelationDeparted EventKind = "relation-departed"
	EventRelationBroken   EventKind = "relation-broken"
	EventAction           EventKind = "action"
)

var relationKinds = []EventKind{
	EventRelationCreated, EventRelationJoined, EventRelationChanged,
	EventRelationDeparted, EventRelationBroken,
}

// HookEnv holds the environment the controller sets for every hook and action
type HookEnv struct {
	DispatchPath string `env:"JUJU_DISPATCH_PATH,required"`
	UnitName     string `env:"JUJU_UNIT_NAME,required"`
	ModelName    string `env:"JUJU_MODEL_NAME"`
	CharmDir     string `env:"JUJU_CHARM_DIR"`
	Relation     string `env:"JUJU_RELATION"`
	RelationID   string `env:"JUJU_RELATION_ID"`
	RemoteApp    string `env:"JUJU_REMOTE_APP"`
	RemoteUnit   string `env:"JUJU_REMOTE_UNIT"`
	ActionName   string `env:"JUJU_ACTION_NAME"`
}

// GetHookEnv reads the hook environment from the process env
func GetHookEnv(ctx context.Context) (*HookEnv, error) {
	var env HookEnv
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// GetHookEnvFrom reads the hook environment from the given map
func GetHookEnvFrom(ctx context.Context, vars map[string]string) (*HookEnv, error) {
	var env HookEnv
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: envconfig.MapLookuper(vars),
	}); err != nil {
		return nil, err
	}
	return &env, nil
}

// Event is the single event this process handles
type Event struct {
	// Name is the hook or action name, eg. database-relation-changed
	Name string
	Kind EventKind

	// Endpoint and RelationID are set only for relation events
	Endpoint   string
	RelationID int

	RemoteApp  string
	RemoteUnit string
}

// NewEvent builds the event described by the hook environment
func NewEvent(env *HookEnv) (Event, error) {
	ev := Event{
		RelationID: -1,
		RemoteApp:  env.RemoteApp,
		RemoteUnit: env.RemoteUnit,
	}

	dir, name := path.Split(env.DispatchPath)
	ev.Name = name

	switch strings.TrimSuffix(dir, "/") {
	case "actions":
		ev.Kind = EventAction
		return ev, nil
	case "hooks":
	default:
		return ev, fmt.Errorf("unexpected dispatch path %q", env.DispatchPath)
	}

	for _, kind := range relationKinds {
		if strings.HasSuffix(name, "-"+string(kind)) {
			ev.Kind = kind
			ev.Endpoint = strings.TrimSuffix(name, "-"+string(kind))
			if env.Relation != "" {
				ev.Endpoint = env.Relation
			}
			id, err := ParseRelationID(env.RelationID)
			if err != nil {
				return ev, errors.Wrapf(err, "relation event %s", name)
			}
			ev.RelationID = id
			return ev, nil
		}
	}

	// storage and workload hooks end up here as well, they are reconciled as any other event
	ev.Kind = EventKind(name)
	if strings.HasSuffix(name, "-pebble-ready") {
		ev.Kind = EventStart
	}

	return ev, nil
}

// ParseRelationID parses ids in the "endpoint:id" form the controller uses
func ParseRelationID(s string) (int, error) {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("invalid relation id %q", s)
	}
	return id, nil
}

// IsRelationEvent returns true for any relation hook
func (e Event) IsRelationEvent() bool {
	return e.RelationID >= 0
}

// IsAction returns true when the unit runs an action
func (e Event) IsAction() bool {
	return e.Kind == EventAction
}

// Breaks reports whether this event is the relation-broken event of the given relation
func (e Event) Breaks(relationID int) bool {
	return e.Kind == EventRelationBroken && e.RelationID == relationID
}
