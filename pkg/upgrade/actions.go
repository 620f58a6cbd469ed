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
	"fmt"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

// ActionFailure is returned when an action can not be run, the message is
// reported to the user
type ActionFailure struct {
	Message string
}

func (e *ActionFailure) Error() string {
	return e.Message
}

func (u *Upgrade) requireLeader(action string) error {
	leader, err := u.model.IsLeader()
	if err != nil {
		return err
	}
	if !leader {
		return &ActionFailure{Message: fmt.Sprintf(
			"Must run action on leader unit. (e.g. `juju run %s/leader %s`)", u.model.AppName, action)}
	}
	return nil
}

// PreUpgradeCheck prepares the application for an upgrade by allowing only
// the highest unit to upgrade first
func (u *Upgrade) PreUpgradeCheck(ctx context.Context) (string, error) {
	if err := u.requireLeader("pre-upgrade-check"); err != nil {
		return "", err
	}
	if u.InProgress() {
		return "", &ActionFailure{Message: "Upgrade already in progress"}
	}

	highest := juju.UnitOrdinal(u.units[0])
	log.Info("raising partition before upgrade", "partition", highest)
	if err := u.platform.SetPartition(ctx, highest, u.target, u.appBag); err != nil {
		return "", err
	}
	return "Charm is ready for upgrade", nil
}

// ResumeUpgrade lets the upgrade continue after the user checked that the
// first upgraded unit is healthy. With force the health of the units is
// ignored.
func (u *Upgrade) ResumeUpgrade(ctx context.Context, force bool) (string, error) {
	if err := u.requireLeader("resume-upgrade"); err != nil {
		return "", err
	}
	if !u.InProgress() {
		return "", &ActionFailure{Message: "No upgrade in progress"}
	}

	partition, err := u.reconcilePartition(ctx, true, force)
	if err != nil {
		return "", err
	}

	if second := u.secondUnitOrdinal(); second >= 0 && partition > second {
		return "", &ActionFailure{Message: "Highest number unit is unhealthy. Upgrade will not resume."}
	}

	if force {
		return fmt.Sprintf("Attempting to upgrade unit %d", partition), nil
	}
	return fmt.Sprintf("Upgrade resumed. Unit %d is upgrading next", partition), nil
}
