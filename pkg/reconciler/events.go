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

package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/cos"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/upstream"
	"github.com/bitpoke/mysql-router-operator/pkg/upgrade"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var errSameWorkloadRevision = errors.New("charm upgraded without a new workload revision")

// Run handles the event of the model: actions run on their own, lifecycle
// events are handled before the convergence loop
func (r *Reconciler) Run(ctx context.Context) error {
	ev := r.model.Event
	log.Info("handling event", "event", ev.Name, "unit", r.model.UnitName)

	if ev.IsAction() {
		return r.runAction(ctx)
	}

	switch {
	case r.isTeardown(ev):
		return r.teardown(ctx)
	case ev.Kind == juju.EventInstall:
		if err := r.install(ctx); err != nil {
			return err
		}
	case ev.Kind == juju.EventUpgradeCharm:
		if err := r.upgradeCharm(ctx); err != nil {
			return err
		}
	}

	return r.Reconcile(ctx)
}

// isTeardown returns true for the events after which the unit is gone. On
// Kubernetes the stop event is also delivered when the pod is replaced.
func (r *Reconciler) isTeardown(ev juju.Event) bool {
	if ev.Kind == juju.EventRemove {
		return true
	}
	return ev.Kind == juju.EventStop && r.profile.MachineUpgrade
}

func (r *Reconciler) install(ctx context.Context) error {
	log.Info("installing workload")
	if err := r.container.Install(ctx); err != nil {
		return err
	}
	return r.model.SetWorkloadVersion(r.versions.Workload)
}

func (r *Reconciler) upgradeCharm(ctx context.Context) error {
	u, err := r.loadUpgrade(ctx)
	if err != nil || u == nil {
		return err
	}

	if !r.profile.MachineUpgrade {
		log.Info("charm upgraded, unit restarted with the new workload")
		return u.SetUnitState(upgrade.Restarting)
	}

	revision, err := r.container.InstalledRevision(ctx)
	if err != nil {
		return err
	}
	if revision == u.TargetVersion() {
		log.Error(errSameWorkloadRevision, "compatibility checks are skipped", "revision", revision)
	}
	return r.model.SetWorkloadVersion(r.versions.Workload)
}

// teardown removes the router from the upstream cluster. Later events are
// ignored.
func (r *Reconciler) teardown(ctx context.Context) error {
	tearingDown, err := r.tearingDown()
	if err != nil || tearingDown {
		return err
	}

	state, err := r.model.State()
	if err != nil {
		return err
	}
	if err = state.Set(tearingDownKey, "true"); err != nil {
		return err
	}

	if err = r.logLeadership(ctx); err != nil {
		return err
	}

	if !r.container.Ready() {
		log.Info("container not ready, nothing to tear down")
		return nil
	}

	observability, err := cos.New(r.model, r.container, cos.Options{LogSlots: r.profile.LogSlots})
	if err != nil {
		return err
	}
	if err = observability.Teardown(ctx); err != nil {
		return err
	}

	up, err := upstream.New(r.model)
	if err != nil {
		return err
	}
	conn, err := up.Get()
	if err != nil {
		return err
	}
	var shell mysqlsh.Interface
	if conn != nil {
		shell = r.NewShell(r.container, *conn.Connection())
	}

	err = r.Workload.Teardown(ctx, shell)
	if mysqlsh.IsConnectionError(err) {
		log.Info("upstream cluster unreachable, router metadata is left behind")
		err = r.Workload.Teardown(ctx, nil)
	}
	if err != nil {
		return err
	}

	return r.logRotate.Disable(ctx)
}

// logLeadership reports a leader going away while other units remain. The
// controller elects a new leader after the unit is gone.
func (r *Reconciler) logLeadership(ctx context.Context) error {
	leader, err := r.model.IsLeader()
	if err != nil || !leader {
		return err
	}
	u, err := r.loadUpgrade(ctx)
	if err != nil || u == nil {
		return err
	}
	if len(u.Units()) > 1 {
		log.Info("leader unit is tearing down, leadership moves to another unit once it is gone",
			"units", len(u.Units()))
	}
	return nil
}

func (r *Reconciler) runAction(ctx context.Context) error {
	action, err := r.model.Action()
	if err != nil {
		return err
	}

	var result string
	switch action.Name {
	case "resume-upgrade":
		result, err = r.resumeUpgrade(ctx, action)
	case "pre-upgrade-check":
		result, err = r.preUpgradeCheck(ctx)
	case "set-tls-private-key":
		result, err = r.setTLSPrivateKey(action)
	default:
		return action.Fail("Unknown action " + action.Name)
	}

	var failure *upgrade.ActionFailure
	if errors.As(err, &failure) {
		return action.Fail(failure.Message)
	}
	if err != nil {
		return err
	}
	if result == "" {
		return nil
	}
	return action.SetResult(result)
}

func (r *Reconciler) upgradeForAction(ctx context.Context) (*upgrade.Upgrade, error) {
	u, err := r.loadUpgrade(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &upgrade.ActionFailure{Message: "Upgrade peer relation not available yet"}
	}
	return u, nil
}

func (r *Reconciler) resumeUpgrade(ctx context.Context, action *juju.Action) (string, error) {
	force, err := action.BoolParam("force")
	if err != nil {
		return "", &upgrade.ActionFailure{Message: err.Error()}
	}
	u, err := r.upgradeForAction(ctx)
	if err != nil {
		return "", err
	}
	return u.ResumeUpgrade(ctx, force)
}

func (r *Reconciler) preUpgradeCheck(ctx context.Context) (string, error) {
	u, err := r.upgradeForAction(ctx)
	if err != nil {
		return "", err
	}
	return u.PreUpgradeCheck(ctx)
}

func (r *Reconciler) setTLSPrivateKey(action *juju.Action) (string, error) {
	key, err := action.StringParam("internal-key")
	if err != nil {
		return "", &upgrade.ActionFailure{Message: err.Error()}
	}

	rels, err := r.loadRelations()
	if err != nil {
		return "", err
	}
	if err = rels.tls.SetPrivateKey(key); err != nil {
		log.Info("failed to set the private key", "error", err.Error())
		return "", &upgrade.ActionFailure{Message: "Invalid private key"}
	}
	return "Private key set", nil
}

// CheckArchitecture blocks the unit when the charm was not built for the
// architecture of the host
func CheckArchitecture(m *juju.Model, arch string) (bool, error) {
	for _, supported := range constants.SupportedArchitectures {
		if arch == supported {
			return true, nil
		}
	}
	log.Info("unsupported architecture", "arch", arch)
	return false, m.SetUnitStatus(juju.BlockedStatus(fmt.Sprintf("Charm incompatible with %s architecture", arch)))
}
