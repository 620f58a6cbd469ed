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

// Package reconciler converges a unit towards the state described by its
// relations, configuration and upgrade progress. It runs once per event.
package reconciler

import (
	"context"
	"errors"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/logrotate"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
	"github.com/bitpoke/mysql-router-operator/pkg/profile"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/cos"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/downstream"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/hacluster"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/tls"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/upstream"
	"github.com/bitpoke/mysql-router-operator/pkg/routerapi"
	"github.com/bitpoke/mysql-router-operator/pkg/upgrade"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
	"github.com/bitpoke/mysql-router-operator/pkg/workload"
)

var log = logf.Log.WithName("reconciler")

const (
	// addressBinding is the binding used to find the address of the unit
	addressBinding = "juju-info"

	tearingDownKey = "tearing-down"

	incompatibleMessage = "Upgrade incompatible. Rollback to previous revision"
	waitingToUpgrade    = "Waiting to upgrade"
)

var errUpstreamRemovedDuringUpgrade = errors.New("upstream relation removed while an upgrade is in progress")

// Options are the substrate specific parts of the reconciler
type Options struct {
	Profile   *profile.DeploymentProfile
	Container container.Container
	Platform  upgrade.Platform
	LogRotate logrotate.Driver
	// Versions are the charm and workload versions of the running revision
	Versions upgrade.Versions
}

// Reconciler handles one event of one unit
type Reconciler struct {
	model     *juju.Model
	profile   *profile.DeploymentProfile
	container container.Container
	platform  upgrade.Platform
	logRotate logrotate.Driver
	versions  upgrade.Versions

	Workload *workload.Workload
	// NewShell connects to the upstream cluster
	NewShell func(c container.Container, conn mysqlsh.Connection) mysqlsh.Interface
	// NewRouterAPI builds the router REST API client used by the cos-agent relation
	NewRouterAPI func(uri, username, password string) routerapi.Interface
}

// New returns the reconciler of the unit handling the model event
func New(m *juju.Model, opts Options) *Reconciler {
	return &Reconciler{
		model:     m,
		profile:   opts.Profile,
		container: opts.Container,
		platform:  opts.Platform,
		logRotate: opts.LogRotate,
		versions:  opts.Versions,
		Workload:  workload.New(opts.Container, m.UnitName),
		NewShell: func(c container.Container, conn mysqlsh.Connection) mysqlsh.Interface {
			return mysqlsh.New(c, conn)
		},
		NewRouterAPI: routerapi.NewFromURI,
	}
}

// relations is the state of every relation during the event
type relations struct {
	upstream   *upstream.Relation
	downstream *downstream.Relations
	tls        *tls.Relation
	cos        *cos.Relation
	ha         *hacluster.Relation

	address  string
	external bool
}

func (r *Reconciler) loadRelations() (*relations, error) {
	var (
		rels = &relations{}
		err  error
	)

	if rels.address, err = r.model.Address(addressBinding); err != nil {
		return nil, err
	}
	if rels.upstream, err = upstream.New(r.model); err != nil {
		return nil, err
	}
	if rels.downstream, err = downstream.New(r.model); err != nil {
		return nil, err
	}
	if rels.external, err = r.external(rels); err != nil {
		return nil, err
	}
	if rels.tls, err = tls.New(r.model, r.profile.TLSOptions(r.model, rels.address, rels.external)); err != nil {
		return nil, err
	}
	if rels.cos, err = cos.New(r.model, r.container, cos.Options{LogSlots: r.profile.LogSlots}); err != nil {
		return nil, err
	}
	rels.cos.NewClient = r.NewRouterAPI
	if rels.ha, err = hacluster.New(r.model); err != nil {
		return nil, err
	}
	return rels, nil
}

// external returns true when the router must listen on TCP
func (r *Reconciler) external(rels *relations) (bool, error) {
	if r.profile.AlwaysExternal {
		return true, nil
	}
	return rels.downstream.ExternalConnectivity()
}

func (r *Reconciler) endpoints(rels *relations, external bool) (downstream.Endpoints, error) {
	vip := ""
	clustered, err := rels.ha.Clustered()
	if err != nil {
		return downstream.Endpoints{}, err
	}
	if clustered {
		vip = rels.ha.VIP()
	}

	return r.profile.Endpoints(profile.EndpointParams{
		External:  external,
		VIP:       vip,
		Address:   rels.address,
		AppName:   r.model.AppName,
		ModelName: r.model.ModelName,
		Container: r.container,
	}), nil
}

// Reconcile runs the convergence loop. An unreachable upstream cluster is
// reported in the unit status and is not an error.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	tearingDown, err := r.tearingDown()
	if err != nil {
		return err
	}
	if tearingDown {
		log.Info("unit is tearing down, skipping reconcile")
		return nil
	}

	err = r.reconcile(ctx)
	if mysqlsh.IsConnectionError(err) {
		log.Info("upstream cluster unreachable", "error", err.Error())
		return r.model.SetUnitStatus(juju.WaitingStatus(mysqlsh.ErrConnection.Error()))
	}
	return err
}

func (r *Reconciler) tearingDown() (bool, error) {
	state, err := r.model.State()
	if err != nil {
		return false, err
	}
	return state.Get(tearingDownKey) != "", nil
}

// nolint: gocyclo
func (r *Reconciler) reconcile(ctx context.Context) error {
	u, err := r.loadUpgrade(ctx)
	if err != nil || u == nil {
		return err
	}

	leader, err := r.model.IsLeader()
	if err != nil {
		return err
	}

	if err = r.recordVersions(ctx, u); err != nil {
		return err
	}
	if leader && !u.InProgress() {
		if err = u.SetVersionsInAppDatabag(); err != nil {
			return err
		}
	}

	state := u.UnitState()
	if state == upgrade.Restarting && !u.IsCompatible() {
		return r.blockIncompatible(leader)
	}

	if r.profile.MachineUpgrade && state == upgrade.Outdated {
		if !u.IsCompatible() {
			return r.blockIncompatible(leader)
		}
		authorized, err := u.Authorized(ctx)
		if err != nil {
			return err
		}
		if !authorized {
			log.Info("waiting for higher units to upgrade")
			return r.waitToUpgrade(ctx, u, leader)
		}
		if err = u.UpgradeUnit(ctx, r.Workload); err != nil {
			return err
		}
	}

	rels, err := r.loadRelations()
	if err != nil {
		return err
	}

	conn, err := rels.upstream.Get()
	if err != nil {
		return err
	}
	var shell mysqlsh.Interface
	if conn != nil {
		shell = r.NewShell(r.container, *conn.Connection())
	}

	external := rels.external
	endpoints, err := r.endpoints(rels, external)
	if err != nil {
		return err
	}

	switch {
	case rels.upstream.IsBreaking():
		if leader {
			if u.InProgress() {
				log.Error(errUpstreamRemovedDuringUpgrade, "revoking downstream credentials")
			}
			log.Info("upstream relation removed, revoking downstream credentials")
			if err = rels.downstream.DeleteAllDatabags(); err != nil {
				return err
			}
		}
	case shell != nil && r.container.Ready() && !u.InProgress():
		if err = rels.downstream.ReconcileUsers(ctx, shell, conn.Username, endpoints); err != nil {
			return err
		}
	}

	if _, err = rels.tls.Reconcile(); err != nil {
		return err
	}

	opts, err := r.workloadOptions(rels, conn, shell, external)
	if err != nil {
		return err
	}

	if r.container.Ready() {
		if err = r.logRotate.Enable(ctx); err != nil {
			return err
		}
		if err = r.Workload.Reconcile(ctx, opts); err != nil {
			return err
		}
		if err = r.reconcileCOS(ctx, rels, &opts); err != nil {
			return err
		}
		if err = r.reconcilePorts(external); err != nil {
			return err
		}
	}

	if err = rels.ha.Reconcile(); err != nil {
		return err
	}

	workloadStatus, err := r.Workload.Status(ctx, opts)
	if err != nil {
		return err
	}
	if workloadStatus == nil || workloadStatus.Kind == juju.StatusWaiting {
		if err = u.SetUnitState(upgrade.Healthy); err != nil {
			return err
		}
	}

	if leader {
		if err = u.ReconcilePartition(ctx); err != nil {
			return err
		}
		appStatus, err := r.appStatus(ctx, u, rels)
		if err != nil {
			return err
		}
		if err = r.model.SetAppStatus(appStatus); err != nil {
			return err
		}
	}

	return r.model.SetUnitStatus(juju.PrioritizeStatuses(workloadStatus))
}

func (r *Reconciler) loadUpgrade(ctx context.Context) (*upgrade.Upgrade, error) {
	u, err := upgrade.New(ctx, r.model, r.platform, r.versions)
	if errors.Is(err, upgrade.ErrPeerRelationNotReady) {
		log.Info("upgrade peer relation not available yet")
		return nil, nil
	}
	return u, err
}

func (r *Reconciler) recordVersions(ctx context.Context, u *upgrade.Upgrade) error {
	if u.VersionsRecorded() {
		return nil
	}
	revision, err := r.container.InstalledRevision(ctx)
	if err != nil {
		return err
	}
	return u.RecordVersions(ctx, revision, r.versions.Workload)
}

func (r *Reconciler) blockIncompatible(leader bool) error {
	log.Info("running revision is incompatible with the previous one", "charm", r.versions.Charm,
		"workload", r.versions.Workload)
	status := juju.BlockedStatus(incompatibleMessage)
	if leader {
		if err := r.model.SetAppStatus(status); err != nil {
			return err
		}
	}
	return r.model.SetUnitStatus(status)
}

func (r *Reconciler) waitToUpgrade(ctx context.Context, u *upgrade.Upgrade, leader bool) error {
	if leader {
		if err := u.ReconcilePartition(ctx); err != nil {
			return err
		}
		status, err := u.AppStatus(ctx)
		if err != nil {
			return err
		}
		if err = r.model.SetAppStatus(juju.PrioritizeStatuses(status)); err != nil {
			return err
		}
	}
	return r.model.SetUnitStatus(juju.WaitingStatus(waitingToUpgrade))
}

func (r *Reconciler) workloadOptions(rels *relations, conn *upstream.ConnectionInfo, shell mysqlsh.Interface,
	external bool) (workload.Options, error) {
	opts := workload.Options{External: external}
	if conn == nil {
		return opts, nil
	}
	opts.Connection = conn.Connection()
	opts.Shell = shell
	opts.Hosts = conn.HostnameMap

	kp, err := rels.tls.KeyPair()
	if err != nil {
		return opts, err
	}
	if kp != nil {
		opts.TLS = &workload.TLS{Key: kp.Key, Certificate: kp.Certificate}
	}

	if opts.Exporter, err = rels.cos.ExporterConfig(); err != nil {
		return opts, err
	}
	return opts, nil
}

// reconcileCOS publishes the agent config and creates the monitoring user
// once the router is running
func (r *Reconciler) reconcileCOS(ctx context.Context, rels *relations, opts *workload.Options) error {
	if rels.cos.IsBreaking() {
		return rels.cos.Teardown(ctx)
	}
	if !rels.cos.Exists() {
		return nil
	}
	if err := rels.cos.Publish(); err != nil {
		return err
	}
	if opts.Exporter != nil || !opts.Authenticated() {
		return nil
	}

	enabled, err := r.Workload.Enabled(ctx)
	if err != nil || !enabled {
		return err
	}
	if err = rels.cos.Setup(ctx); err != nil {
		return err
	}
	if opts.Exporter, err = rels.cos.ExporterConfig(); err != nil {
		return err
	}
	return r.Workload.Reconcile(ctx, *opts)
}

func (r *Reconciler) reconcilePorts(external bool) error {
	if !r.profile.ExposePorts {
		return nil
	}
	if external {
		return r.model.SetOpenedPorts(constants.RouterReadWritePort, constants.RouterReadOnlyPort)
	}
	return r.model.SetOpenedPorts()
}

func (r *Reconciler) appStatus(ctx context.Context, u *upgrade.Upgrade, rels *relations) (*juju.Status, error) {
	upgradeStatus, err := u.AppStatus(ctx)
	if err != nil {
		return nil, err
	}
	upstreamStatus, err := rels.upstream.Status()
	if err != nil {
		return nil, err
	}
	downstreamStatus, err := rels.downstream.Status()
	if err != nil {
		return nil, err
	}
	external, err := rels.downstream.ExternalConnectivity()
	if err != nil {
		return nil, err
	}

	return juju.PrioritizeStatuses(
		upgradeStatus,
		upstreamStatus,
		downstreamStatus,
		rels.ha.Status(external),
	), nil
}
