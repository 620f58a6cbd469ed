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

import "fmt"

// StatusKind is the workload status reported to the controller
type StatusKind string

const (
	// StatusActive is reported when the unit is ready to serve
	StatusActive StatusKind = "active"
	// StatusBlocked requires an operator action
	StatusBlocked StatusKind = "blocked"
	// StatusMaintenance is reported while the unit is doing work on its own
	StatusMaintenance StatusKind = "maintenance"
	// StatusWaiting is reported while the unit waits for something outside of its control
	StatusWaiting StatusKind = "waiting"
)

// priority used by PrioritizeStatuses, higher wins
var statusPriority = map[StatusKind]int{
	StatusActive:      0,
	StatusWaiting:     1,
	StatusMaintenance: 2,
	StatusBlocked:     3,
}

// Status is a workload status with an optional message. A nil *Status means
// "nothing to report".
type Status struct {
	Kind    StatusKind
	Message string
}

// ActiveStatus returns an active status with the given message
func ActiveStatus(msg string) *Status {
	return &Status{Kind: StatusActive, Message: msg}
}

// BlockedStatus returns a blocked status with the given message
func BlockedStatus(msg string) *Status {
	return &Status{Kind: StatusBlocked, Message: msg}
}

// WaitingStatus returns a waiting status with the given message
func WaitingStatus(msg string) *Status {
	return &Status{Kind: StatusWaiting, Message: msg}
}

// MaintenanceStatus returns a maintenance status with the given message
func MaintenanceStatus(msg string) *Status {
	return &Status{Kind: StatusMaintenance, Message: msg}
}

func (s *Status) String() string {
	if s == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s(%q)", s.Kind, s.Message)
}

// Equal reports whether two statuses carry the same kind and message
func (s *Status) Equal(o *Status) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Kind == o.Kind && s.Message == o.Message
}

// PrioritizeStatuses returns the most important status of the given ones:
// blocked > maintenance > waiting > active. On ties the first one wins. When
// no status is provided an empty active status is returned.
func PrioritizeStatuses(statuses ...*Status) *Status {
	var result *Status
	for _, s := range statuses {
		if s == nil {
			continue
		}
		if result == nil || statusPriority[s.Kind] > statusPriority[result.Kind] {
			result = s
		}
	}

	if result == nil {
		return ActiveStatus("")
	}

	return result
}
