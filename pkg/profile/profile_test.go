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

package profile_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	cfake "github.com/bitpoke/mysql-router-operator/pkg/container/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/container/snap"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/juju/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/profile"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/downstream"
)

var _ = Describe("Deployment profiles", func() {
	It("should look up profiles by name", func() {
		p, err := profile.Get("machine")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.MachineUpgrade).To(BeTrue())
		Expect(p.ExposePorts).To(BeTrue())
		Expect(p.LogSlots).To(ConsistOf("charmed-mysql:logs"))

		p, err = profile.Get("kubernetes")
		Expect(err).ToNot(HaveOccurred())
		Expect(p.AlwaysExternal).To(BeTrue())
		Expect(p.MachineUpgrade).To(BeFalse())

		_, err = profile.Get("lxd")
		Expect(err).To(MatchError(`unknown deployment profile "lxd"`))
	})

	Describe("machine endpoints", func() {
		It("should publish the sockets inside the snap", func() {
			c := snap.New(nil, nil, "121")
			Expect(profile.MachineEndpoints(profile.EndpointParams{Container: c})).To(Equal(downstream.Endpoints{
				ReadWrite: "file:///var/snap/charmed-mysql/common/run/mysqlrouter/mysql.sock",
				ReadOnly:  "file:///var/snap/charmed-mysql/common/run/mysqlrouter/mysqlro.sock",
			}))
		})

		It("should publish the unit address in external mode", func() {
			Expect(profile.MachineEndpoints(profile.EndpointParams{
				External: true, Address: "10.1.2.3", Container: cfake.NewContainer(),
			})).To(Equal(downstream.Endpoints{ReadWrite: "10.1.2.3:6446", ReadOnly: "10.1.2.3:6447"}))
		})

		It("should prefer the virtual IP", func() {
			Expect(profile.MachineEndpoints(profile.EndpointParams{
				External: true, VIP: "10.1.2.100", Address: "10.1.2.3", Container: cfake.NewContainer(),
			})).To(Equal(downstream.Endpoints{ReadWrite: "10.1.2.100:6446", ReadOnly: "10.1.2.100:6447"}))
		})
	})

	It("should publish the kubernetes service", func() {
		Expect(profile.KubernetesEndpoints(profile.EndpointParams{AppName: "mysql-router-k8s", ModelName: "dev"})).To(Equal(
			downstream.Endpoints{
				ReadWrite: "mysql-router-k8s.dev.svc.cluster.local:6446",
				ReadOnly:  "mysql-router-k8s.dev.svc.cluster.local:6447",
			}))
	})

	It("should name the pod in kubernetes certificates", func() {
		backend := fake.NewBackend("mysql-router-k8s/2")
		m := backend.Model(backend.Env("hooks/update-status"))
		opts := profile.KubernetesProfile().TLSOptions(m, "10.1.2.3", true)
		Expect(opts.Hostname).To(Equal("mysql-router-k8s-2"))
		Expect(opts.SANs).To(Equal([]string{
			"mysql-router-k8s-2",
			"mysql-router-k8s-2.mysql-router-k8s-endpoints",
			"mysql-router-k8s.test-model.svc.cluster.local",
			"127.0.0.1",
			"10.1.2.3",
		}))
	})

	Context("machine certificates", func() {
		var m *juju.Model

		BeforeEach(func() {
			backend := fake.NewBackend("mysql-router/0")
			m = backend.Model(backend.Env("hooks/update-status"))
		})

		It("should only cover the loopback address for local clients", func() {
			opts := profile.MachineProfile().TLSOptions(m, "10.1.2.3", false)
			Expect(opts.SANs).To(ContainElement("127.0.0.1"))
			Expect(opts.SANs).ToNot(ContainElement("10.1.2.3"))
			Expect(opts.SANs[0]).To(Equal(opts.Hostname))
		})

		It("should cover the unit address for external clients", func() {
			opts := profile.MachineProfile().TLSOptions(m, "10.1.2.3", true)
			Expect(opts.SANs).To(ContainElements("127.0.0.1", "10.1.2.3"))
		})
	})
})
