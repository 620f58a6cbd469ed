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

package hacluster_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/juju/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/hacluster"
)

var _ = Describe("HA cluster relation", func() {
	var (
		backend *fake.Backend
		rel     *fake.Relation
	)

	load := func() *hacluster.Relation {
		r, err := hacluster.New(backend.Model(backend.Env("hooks/update-status")))
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	decode := func(s string) map[string]string {
		out := map[string]string{}
		Expect(json.Unmarshal([]byte(s), &out)).To(Succeed())
		return out
	}

	BeforeEach(func() {
		backend = fake.NewBackend("mysql-router/0")
		rel = backend.AddRelation(hacluster.Endpoint, 9, "hacluster", "hacluster/0")
	})

	It("should derive a stable resource name from the virtual IP", func() {
		Expect(hacluster.ResourceName("mysql-router", "10.1.2.100")).To(Equal("res_mysql-router_86300c6_vip"))
		Expect(hacluster.ResourceName("mysql-router", "fd00::100")).To(Equal("res_mysql-router_bece88d_vip"))
	})

	It("should wait for the cluster to form", func() {
		backend.Config["vip"] = "10.1.2.100"
		Expect(load().Reconcile()).To(Succeed())
		Expect(rel.Unit("mysql-router/0")).To(BeEmpty())
	})

	It("should publish an IPv4 resource", func() {
		backend.Config["vip"] = "10.1.2.100"
		rel.SetUnit("hacluster/0", map[string]string{"clustered": "yes"})

		Expect(load().Reconcile()).To(Succeed())

		data := rel.Unit("mysql-router/0")
		Expect(decode(data["json_resources"])).To(Equal(map[string]string{
			"res_mysql-router_86300c6_vip": "ocf:heartbeat:IPaddr2",
		}))
		Expect(decode(data["json_resource_params"])).To(Equal(map[string]string{
			"res_mysql-router_86300c6_vip": ` params ip="10.1.2.100" meta migration-threshold="INFINITY" ` +
				`failure-timeout="5s" op monitor timeout="20s" interval="10s" depth="0"`,
		}))
	})

	It("should publish an IPv6 resource", func() {
		backend.Config["vip"] = "fd00::100"
		rel.SetUnit("hacluster/0", map[string]string{"clustered": "true"})

		Expect(load().Reconcile()).To(Succeed())

		data := rel.Unit("mysql-router/0")
		Expect(decode(data["json_resources"])).To(HaveKeyWithValue("res_mysql-router_bece88d_vip", "ocf:heartbeat:IPv6addr"))
		Expect(decode(data["json_resource_params"])["res_mysql-router_bece88d_vip"]).To(HavePrefix(` params ipv6addr="fd00::100" meta`))
	})

	It("should clear the resources when the virtual IP is removed", func() {
		backend.Config["vip"] = "10.1.2.100"
		rel.SetUnit("hacluster/0", map[string]string{"clustered": "yes"})
		Expect(load().Reconcile()).To(Succeed())

		delete(backend.Config, "vip")
		Expect(load().Reconcile()).To(Succeed())
		Expect(rel.Unit("mysql-router/0")).To(Equal(map[string]string{
			"json_resources":       "{}",
			"json_resource_params": "{}",
		}))

		writes := backend.RelationWrites
		Expect(load().Reconcile()).To(Succeed())
		Expect(backend.RelationWrites).To(Equal(writes))
	})

	DescribeTable("status",
		func(withRelation bool, vip string, external bool, expected *juju.Status) {
			if !withRelation {
				backend.RemoveRelation(9)
			}
			if vip != "" {
				backend.Config["vip"] = vip
			}
			status := load().Status(external)
			if expected == nil {
				Expect(status).To(BeNil())
			} else {
				Expect(status).To(Equal(expected))
			}
		},
		Entry("relation without external connectivity", true, "10.1.2.100", false,
			juju.BlockedStatus("ha integration used without data-integrator")),
		Entry("relation without vip", true, "", true,
			juju.BlockedStatus("ha integration used without vip configuration")),
		Entry("vip without external connectivity", false, "10.1.2.100", false,
			juju.BlockedStatus("vip configuration without data-integrator")),
		Entry("complete setup", true, "10.1.2.100", true, nil),
		Entry("nothing configured", false, "", false, nil),
	)
})
