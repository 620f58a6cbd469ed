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

// Package upgrade coordinates rolling in-place upgrades across the units of
// the application. All the state lives in the upgrade peer relation and is
// read through on every event.
package upgrade

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/blang/semver"
	pkgerrors "github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

var log = logf.Log.WithName("upgrade")

// PeerEndpoint is the peer relation holding the upgrade state
const PeerEndpoint = "upgrade-version-a"

const (
	stateKey            = "state"
	containerVersionKey = "workload_container_version"
	workloadVersionKey  = "workload_version"
	versionsKey         = "versions"
)

// ErrPeerRelationNotReady is returned while the peer relation is not
// established
var ErrPeerRelationNotReady = errors.New("upgrade peer relation not available")

// UnitState is the upgrade state of a unit
type UnitState string

const (
	// Healthy units run the workload they were asked to run
	Healthy UnitState = "healthy"
	// Restarting units have been restarted with a new charm revision
	Restarting UnitState = "restarting"
	// Upgrading units are replacing the workload
	Upgrading UnitState = "upgrading"
	// Outdated units run an older workload container version than the target
	Outdated UnitState = "outdated"
)

// Versions are the charm and workload versions of a revision
type Versions struct {
	Charm    string `json:"charm"`
	Workload string `json:"workload"`
}

// Workload is upgraded in place on machines
type Workload interface {
	Upgrade(ctx context.Context) error
}

// Upgrade is the upgrade state as seen by this unit during one event
type Upgrade struct {
	model    *juju.Model
	platform Platform
	current  Versions

	unitBag *juju.Databag
	appBag  *juju.Databag
	bags    map[string]*juju.Databag

	// units are all the units of the application sorted by ordinal, highest first
	units    []string
	target   string
	versions map[string]string
}

// New loads the upgrade state. It returns ErrPeerRelationNotReady when the
// peer relation does not exist yet.
func New(ctx context.Context, m *juju.Model, platform Platform, current Versions) (*Upgrade, error) {
	rel, err := m.Relation(PeerEndpoint)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, ErrPeerRelationNotReady
	}

	u := &Upgrade{
		model:    m,
		platform: platform,
		current:  current,
		bags:     map[string]*juju.Databag{},
	}

	if u.unitBag, err = rel.LocalUnit(); err != nil {
		return nil, err
	}
	if u.appBag, err = rel.LocalApp(); err != nil {
		return nil, err
	}

	u.bags[m.UnitName] = u.unitBag
	u.units = []string{m.UnitName}
	for _, unit := range rel.Units {
		if unit == m.UnitName {
			continue
		}
		bag, err := rel.RemoteUnit(unit)
		if err != nil {
			return nil, err
		}
		u.bags[unit] = bag
		u.units = append(u.units, unit)
	}
	sort.Slice(u.units, func(i, j int) bool {
		return juju.UnitOrdinal(u.units[i]) > juju.UnitOrdinal(u.units[j])
	})

	if u.target, err = platform.TargetVersion(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get the target workload container version")
	}
	if u.versions, err = platform.UnitVersions(ctx, u.bags); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get the unit workload container versions")
	}

	return u, nil
}

// Units returns the unit names sorted by ordinal, highest first
func (u *Upgrade) Units() []string {
	return u.units
}

// TargetVersion returns the workload container version every unit should run
func (u *Upgrade) TargetVersion() string {
	return u.target
}

func (u *Upgrade) unitVersion() string {
	return u.versions[u.model.UnitName]
}

// UnitState returns the upgrade state of this unit, empty when not known yet
func (u *Upgrade) UnitState() UnitState {
	if v := u.unitVersion(); v != "" && v != u.target {
		return Outdated
	}
	return UnitState(u.unitBag.Get(stateKey))
}

// SetUnitState records the upgrade state of this unit
func (u *Upgrade) SetUnitState(s UnitState) error {
	if u.unitBag.Get(stateKey) != string(s) {
		log.V(1).Info("setting unit upgrade state", "state", s)
	}
	return u.unitBag.Set(map[string]string{stateKey: string(s)})
}

// InProgress returns true while some unit runs a workload container version
// other than the target
func (u *Upgrade) InProgress() bool {
	for _, unit := range u.units {
		if v := u.versions[unit]; v != "" && v != u.target {
			return true
		}
	}
	return false
}

// VersionsRecorded returns true once this unit recorded the versions it runs
func (u *Upgrade) VersionsRecorded() bool {
	return u.unitBag.Get(containerVersionKey) != "" && u.unitBag.Get(workloadVersionKey) != ""
}

// RecordVersions saves the workload container version and workload version of
// this unit the first time they are known
func (u *Upgrade) RecordVersions(ctx context.Context, containerVersion, workloadVersion string) error {
	values := map[string]string{}
	if u.unitBag.Get(containerVersionKey) == "" && containerVersion != "" {
		values[containerVersionKey] = containerVersion
	}
	if u.unitBag.Get(workloadVersionKey) == "" && workloadVersion != "" {
		values[workloadVersionKey] = workloadVersion
	}
	if len(values) == 0 {
		return nil
	}
	if err := u.unitBag.Set(values); err != nil {
		return err
	}
	return u.refreshVersions(ctx)
}

func (u *Upgrade) refreshVersions(ctx context.Context) error {
	versions, err := u.platform.UnitVersions(ctx, u.bags)
	if err != nil {
		return err
	}
	u.versions = versions
	return nil
}

// SetVersionsInAppDatabag records the versions of the running revision. It
// must be called by the leader when no upgrade is in progress.
func (u *Upgrade) SetVersionsInAppDatabag() error {
	data, err := json.Marshal(u.current)
	if err != nil {
		return err
	}
	return u.appBag.Set(map[string]string{versionsKey: string(data)})
}

func parseVersion(v string) (semver.Version, error) {
	// build metadata (eg. the git hash) is not relevant for compatibility
	v = strings.SplitN(v, "+", 2)[0]
	return semver.ParseTolerant(v)
}

// IsCompatible returns true if this revision can be upgraded to from the
// revision recorded in the app databag
func (u *Upgrade) IsCompatible() bool {
	raw := u.appBag.Get(versionsKey)
	if raw == "" {
		log.Info("no previous versions recorded, upgrade is incompatible")
		return false
	}

	previous := Versions{}
	if err := json.Unmarshal([]byte(raw), &previous); err != nil {
		log.Error(err, "failed to decode previous versions")
		return false
	}

	prevCharm, err := parseVersion(previous.Charm)
	if err != nil {
		log.Error(err, "failed to parse previous charm version", "version", previous.Charm)
		return false
	}
	curCharm, err := parseVersion(u.current.Charm)
	if err != nil {
		log.Error(err, "failed to parse charm version", "version", u.current.Charm)
		return false
	}
	if prevCharm.Major != curCharm.Major {
		log.Info("incompatible charm major version", "previous", previous.Charm, "current", u.current.Charm)
		return false
	}

	prevWorkload, err := parseVersion(previous.Workload)
	if err != nil {
		log.Error(err, "failed to parse previous workload version", "version", previous.Workload)
		return false
	}
	curWorkload, err := parseVersion(u.current.Workload)
	if err != nil {
		log.Error(err, "failed to parse workload version", "version", u.current.Workload)
		return false
	}
	if prevWorkload.GT(curWorkload) || prevWorkload.Major != curWorkload.Major || prevWorkload.Minor != curWorkload.Minor {
		log.Info("incompatible workload version", "previous", previous.Workload, "current", u.current.Workload)
		return false
	}

	return true
}

func (u *Upgrade) state(unit string) UnitState {
	return UnitState(u.bags[unit].Get(stateKey))
}

func (u *Upgrade) upgraded(unit string) bool {
	return u.versions[unit] == u.target && u.state(unit) == Healthy
}

// Authorized returns true when every higher ordinal unit finished upgrading
// and, for the second unit to upgrade, the user resumed the upgrade
func (u *Upgrade) Authorized(ctx context.Context) (bool, error) {
	for index, unit := range u.units {
		if unit != u.model.UnitName {
			if !u.upgraded(unit) {
				return false, nil
			}
			continue
		}

		if index != 1 {
			return true, nil
		}

		partition, err := u.platform.Partition(ctx, u.units, u.target, u.appBag)
		if err != nil {
			return false, err
		}
		return juju.UnitOrdinal(unit) >= partition, nil
	}
	return false, nil
}

// UpgradeUnit replaces the workload of this unit with the target version
func (u *Upgrade) UpgradeUnit(ctx context.Context, w Workload) error {
	log.Info("upgrading unit", "from", u.unitVersion(), "to", u.target)

	if err := u.SetUnitState(Upgrading); err != nil {
		return err
	}
	if err := w.Upgrade(ctx); err != nil {
		return err
	}

	err := u.unitBag.Set(map[string]string{
		containerVersionKey: u.target,
		workloadVersionKey:  u.current.Workload,
	})
	if err != nil {
		return err
	}
	log.Info("unit upgraded", "version", u.target)
	return u.refreshVersions(ctx)
}

// secondUnitOrdinal returns the ordinal of the second unit to upgrade or -1
// when the application has a single unit
func (u *Upgrade) secondUnitOrdinal() int {
	if len(u.units) < 2 {
		return -1
	}
	return juju.UnitOrdinal(u.units[1])
}

func (u *Upgrade) desiredPartition(resume, force bool) int {
	if !u.InProgress() {
		return 0
	}

	for index, unit := range u.units {
		if (!force && u.state(unit) != Healthy) || u.versions[unit] != u.target {
			if !resume && index == 1 {
				// the second unit waits for the user to resume the upgrade
				return juju.UnitOrdinal(u.units[0])
			}
			return juju.UnitOrdinal(unit)
		}
	}
	return 0
}

// ReconcilePartition lowers the partition as units finish upgrading. The
// partition is never raised here.
func (u *Upgrade) ReconcilePartition(ctx context.Context) error {
	_, err := u.reconcilePartition(ctx, false, false)
	return err
}

func (u *Upgrade) reconcilePartition(ctx context.Context, resume, force bool) (int, error) {
	current, err := u.platform.Partition(ctx, u.units, u.target, u.appBag)
	if err != nil {
		return 0, err
	}

	desired := u.desiredPartition(resume, force)
	if desired >= current {
		return current, nil
	}

	log.Info("lowering partition", "from", current, "to", desired)
	if err := u.platform.SetPartition(ctx, desired, u.target, u.appBag); err != nil {
		return 0, err
	}
	return desired, nil
}

// AppStatus returns the application status caused by an upgrade or nil
func (u *Upgrade) AppStatus(ctx context.Context) (*juju.Status, error) {
	if !u.InProgress() {
		return nil, nil
	}
	if !u.IsCompatible() {
		return juju.BlockedStatus("Upgrade incompatible. Rollback to previous revision"), nil
	}

	partition, err := u.platform.Partition(ctx, u.units, u.target, u.appBag)
	if err != nil {
		return nil, err
	}
	if second := u.secondUnitOrdinal(); second >= 0 && partition > second {
		return juju.BlockedStatus("Upgrading. Verify highest unit is healthy & run `resume-upgrade` action. " +
			"To rollback, `juju refresh` to last revision"), nil
	}
	return juju.MaintenanceStatus("Upgrading. To rollback, `juju refresh` to the previous revision"), nil
}
