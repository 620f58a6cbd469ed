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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/juju/fake"
)

var _ = Describe("Juju model", func() {
	var (
		backend *fake.Backend
		model   *juju.Model
	)

	BeforeEach(func() {
		backend = fake.NewBackend("mysql-router/3")
		backend.Leader = true
		backend.AddRelation("database", 4, "app").SetApp("app", map[string]string{"database": "foo"})
		model = backend.Model(backend.Env("hooks/update-status"))
	})

	It("should know the unit", func() {
		Expect(model.AppName).To(Equal("mysql-router"))
		Expect(model.UnitOrdinal()).To(Equal(3))
		Expect(juju.UnitOrdinal("mysql-router/12")).To(Equal(12))
		Expect(juju.UnitOrdinal("nope")).To(Equal(-1))
	})

	It("should read and write databags", func() {
		rel, err := model.Relation("database")
		Expect(err).NotTo(HaveOccurred())
		Expect(rel.App).To(Equal("app"))

		remote, err := rel.RemoteApp()
		Expect(err).NotTo(HaveOccurred())
		Expect(remote.Get("database")).To(Equal("foo"))
		Expect(remote.Set(map[string]string{"a": "b"})).NotTo(Succeed())

		local, err := rel.LocalApp()
		Expect(err).NotTo(HaveOccurred())
		Expect(local.Set(map[string]string{"username": "u", "password": "p"})).To(Succeed())
		Expect(backend.Relations[4].App("mysql-router")).To(HaveKeyWithValue("username", "u"))

		writes := backend.RelationWrites
		Expect(local.Set(map[string]string{"username": "u"})).To(Succeed())
		Expect(backend.RelationWrites).To(Equal(writes))

		Expect(local.Clear()).To(Succeed())
		Expect(backend.Relations[4].App("mysql-router")).To(BeEmpty())
		Expect(local.Keys()).To(BeEmpty())
	})

	It("should report incomplete databags", func() {
		var err error = &juju.IncompleteDatabagError{App: "app", Endpoint: "database", Missing: []string{"endpoints"}}
		var incomplete *juju.IncompleteDatabagError
		Expect(errors.As(err, &incomplete)).To(BeTrue())
		Expect(incomplete.Missing).To(ConsistOf("endpoints"))
		Expect(incomplete.Status()).To(Equal(juju.WaitingStatus("Waiting for app app on database endpoint")))
	})

	It("should refuse multiple relations on a single endpoint", func() {
		backend.AddRelation("database", 5, "other")
		model = backend.Model(backend.Env("hooks/update-status"))
		_, err := model.Relation("database")
		Expect(err).To(HaveOccurred())
	})

	It("should manage unit secrets", func() {
		secrets := model.UnitSecrets("unit")
		v, err := secrets.Get("tls-private-key")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeEmpty())

		Expect(secrets.Set(map[string]string{"tls-private-key": "key", "tls-ca": "ca"})).To(Succeed())
		Expect(backend.Secrets).To(HaveKey("mysql-router.unit"))

		Expect(secrets.Delete("tls-ca")).To(Succeed())
		Expect(backend.Secrets["mysql-router.unit"]).To(Equal(map[string]string{"tls-private-key": "key"}))

		Expect(secrets.Delete("tls-private-key")).To(Succeed())
		Expect(backend.Secrets).NotTo(HaveKey("mysql-router.unit"))
	})

	It("should keep unit state", func() {
		state, err := model.State()
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Set("tearing-down", "true")).To(Succeed())
		Expect(backend.State).To(HaveKeyWithValue("tearing-down", "true"))
		Expect(state.Set("tearing-down", "")).To(Succeed())
		Expect(backend.State).To(BeEmpty())
	})

	It("should read the vip config", func() {
		backend.Config["vip"] = " 10.0.0.10 "
		cfg, err := model.Config()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.VIP).To(Equal("10.0.0.10"))
	})

	It("should open only the wanted ports", func() {
		backend.Ports[3306] = true
		backend.Ports[6446] = true

		Expect(model.SetOpenedPorts(6446, 6447)).To(Succeed())
		Expect(backend.OpenedPorts()).To(Equal([]int{6446, 6447}))

		Expect(model.SetOpenedPorts()).To(Succeed())
		Expect(backend.Ports).To(BeEmpty())
	})
})
