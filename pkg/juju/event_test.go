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

package juju_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

var _ = Describe("Juju events", func() {
	It("should parse relation events", func() {
		env, err := juju.GetHookEnvFrom(context.TODO(), map[string]string{
			"JUJU_DISPATCH_PATH": "hooks/backend-database-relation-broken",
			"JUJU_UNIT_NAME":     "mysql-router/2",
			"JUJU_RELATION":      "backend-database",
			"JUJU_RELATION_ID":   "backend-database:7",
			"JUJU_REMOTE_APP":    "mysql",
		})
		Expect(err).NotTo(HaveOccurred())

		ev, err := juju.NewEvent(env)
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(juju.EventRelationBroken))
		Expect(ev.Endpoint).To(Equal("backend-database"))
		Expect(ev.RelationID).To(Equal(7))
		Expect(ev.Breaks(7)).To(BeTrue())
		Expect(ev.Breaks(8)).To(BeFalse())
	})

	It("should parse actions", func() {
		ev, err := juju.NewEvent(&juju.HookEnv{DispatchPath: "actions/resume-upgrade", UnitName: "mysql-router/0"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.IsAction()).To(BeTrue())
		Expect(ev.Name).To(Equal("resume-upgrade"))
		Expect(ev.IsRelationEvent()).To(BeFalse())
	})

	It("should treat pebble ready as start", func() {
		ev, err := juju.NewEvent(&juju.HookEnv{DispatchPath: "hooks/mysql-router-pebble-ready", UnitName: "mysql-router/0"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(juju.EventStart))
	})

	It("should fail on unknown dispatch paths", func() {
		_, err := juju.NewEvent(&juju.HookEnv{DispatchPath: "foo/install", UnitName: "mysql-router/0"})
		Expect(err).To(HaveOccurred())
	})

	It("should require the dispatch path", func() {
		_, err := juju.GetHookEnvFrom(context.TODO(), map[string]string{"JUJU_UNIT_NAME": "a/0"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Statuses", func() {
	It("should prioritize blocked over everything", func() {
		s := juju.PrioritizeStatuses(
			juju.WaitingStatus("w"),
			juju.BlockedStatus("b"),
			juju.MaintenanceStatus("m"),
			juju.ActiveStatus("a"),
		)
		Expect(s).To(Equal(juju.BlockedStatus("b")))
	})

	It("should prefer maintenance over waiting", func() {
		s := juju.PrioritizeStatuses(nil, juju.WaitingStatus("w"), juju.MaintenanceStatus("m"))
		Expect(s).To(Equal(juju.MaintenanceStatus("m")))
	})

	It("should keep insertion order on ties", func() {
		s := juju.PrioritizeStatuses(juju.BlockedStatus("first"), juju.BlockedStatus("second"))
		Expect(s.Message).To(Equal("first"))
	})

	It("should default to active", func() {
		Expect(juju.PrioritizeStatuses(nil, nil)).To(Equal(juju.ActiveStatus("")))
	})
})
