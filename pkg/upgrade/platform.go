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

package upgrade

import (
	"context"
	"encoding/json"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

const partitionKey = "partition"

// Platform knows which workload container version each unit runs and keeps
// the upgrade partition: only units with an ordinal greater or equal to the
// partition may upgrade
type Platform interface {
	// TargetVersion returns the workload container version every unit must run
	TargetVersion(ctx context.Context) (string, error)
	// UnitVersions returns the workload container version of each unit. The
	// peer unit databags are given by unit name.
	UnitVersions(ctx context.Context, bags map[string]*juju.Databag) (map[string]string, error)
	// Partition returns the partition, units are sorted by ordinal, highest first
	Partition(ctx context.Context, units []string, target string, app *juju.Databag) (int, error)
	SetPartition(ctx context.Context, partition int, target string, app *juju.Databag) error
}

// Machine is the platform of machine units, the workload container is a
// snap refreshed by the charm
type Machine struct {
	// Revision is the snap revision pinned by this charm revision
	Revision string
}

var _ Platform = &Machine{}

type partitionRecord struct {
	Version string `json:"version"`
	Value   int    `json:"value"`
}

// TargetVersion implements Platform
func (p *Machine) TargetVersion(context.Context) (string, error) {
	return p.Revision, nil
}

// UnitVersions implements Platform, units record the installed snap revision
// in the peer databag
func (p *Machine) UnitVersions(_ context.Context, bags map[string]*juju.Databag) (map[string]string, error) {
	versions := map[string]string{}
	for unit, bag := range bags {
		versions[unit] = bag.Get(containerVersionKey)
	}
	return versions, nil
}

// Partition implements Platform. A partition recorded for another target
// version belongs to a previous upgrade, a new upgrade starts with only the
// highest unit allowed.
func (p *Machine) Partition(_ context.Context, units []string, target string, app *juju.Databag) (int, error) {
	highest := 0
	if len(units) > 0 {
		highest = juju.UnitOrdinal(units[0])
	}

	raw := app.Get(partitionKey)
	if raw == "" {
		return highest, nil
	}
	record := partitionRecord{}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return 0, err
	}
	if record.Version != target {
		return highest, nil
	}
	return record.Value, nil
}

// SetPartition implements Platform
func (p *Machine) SetPartition(_ context.Context, partition int, target string, app *juju.Databag) error {
	data, err := json.Marshal(partitionRecord{Version: target, Value: partition})
	if err != nil {
		return err
	}
	return app.Set(map[string]string{partitionKey: string(data)})
}
