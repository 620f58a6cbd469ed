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

package cos_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	cfake "github.com/bitpoke/mysql-router-operator/pkg/container/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/juju/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/cos"
	"github.com/bitpoke/mysql-router-operator/pkg/routerapi"
	afake "github.com/bitpoke/mysql-router-operator/pkg/routerapi/fake"
)

const secretLabel = "mysql-router.cos"

var _ = Describe("COS agent relation", func() {
	var (
		backend *fake.Backend
		ctr     *cfake.Container
		api     *afake.Client
		rel     *fake.Relation
	)

	ready := afake.Response{Routes: []routerapi.Route{{Name: "bootstrap_ro"}, {Name: "bootstrap_rw"}}}

	load := func(env *juju.HookEnv) *cos.Relation {
		r, err := cos.New(backend.Model(env), ctr, cos.Options{LogSlots: []string{"charmed-mysql:logs"}})
		Expect(err).ToNot(HaveOccurred())
		r.NewClient = api.Factory()
		r.Delay = time.Millisecond
		r.Timeout = 50 * time.Millisecond
		return r
	}

	BeforeEach(func() {
		backend = fake.NewBackend("mysql-router/0")
		ctr = cfake.NewContainer()
		api = afake.New(ready)
		rel = backend.AddRelation(cos.Endpoint, 5, "grafana-agent", "grafana-agent/0")
	})

	It("should publish the scrape job and log slots", func() {
		Expect(load(backend.Env("hooks/update-status")).Publish()).To(Succeed())

		config := map[string]interface{}{}
		Expect(json.Unmarshal([]byte(rel.Unit("mysql-router/0")["config"]), &config)).To(Succeed())
		Expect(config["log_slots"]).To(ConsistOf("charmed-mysql:logs"))
		Expect(config["metrics_scrape_jobs"]).To(ConsistOf(map[string]interface{}{
			"metrics_path": "/metrics",
			"static_configs": []interface{}{
				map[string]interface{}{"targets": []interface{}{"localhost:49152"}},
			},
		}))
	})

	It("should create the monitoring user once", func() {
		r := load(backend.Env("hooks/update-status"))
		cfg, err := r.ExporterConfig()
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg).To(BeNil())

		Expect(r.Setup(context.TODO())).To(Succeed())

		password := backend.Secrets[secretLabel]["monitoring-password"]
		Expect(password).To(MatchRegexp("^[A-Za-z0-9]{24}$"))
		Expect(ctr.RESTPasswords).To(HaveKeyWithValue("monitoring", password))
		Expect(api.Username).To(Equal("monitoring"))
		Expect(api.Password).To(Equal(password))

		cfg, err = r.ExporterConfig()
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.URL).To(Equal("https://127.0.0.1:8443"))
		Expect(cfg.Username).To(Equal("monitoring"))
		Expect(cfg.Password).To(Equal(password))

		calls := api.Calls
		Expect(load(backend.Env("hooks/update-status")).Setup(context.TODO())).To(Succeed())
		Expect(api.Calls).To(Equal(calls))
		Expect(backend.Secrets[secretLabel]["monitoring-password"]).To(Equal(password))
	})

	It("should wait until the router serves the read-write route", func() {
		api = afake.New(
			afake.Response{Err: errors.New("connection refused")},
			afake.Response{Routes: []routerapi.Route{{Name: "bootstrap_ro"}}},
			ready,
		)
		Expect(load(backend.Env("hooks/update-status")).Setup(context.TODO())).To(Succeed())
		Expect(api.Calls).To(Equal(3))
	})

	It("should not store the password when the router never authenticates", func() {
		api = afake.New(afake.Response{Err: &routerapi.Error{HTTPStatus: 401, Message: "Unauthorized"}})
		err := load(backend.Env("hooks/update-status")).Setup(context.TODO())
		Expect(err).To(MatchError(ContainSubstring("Unauthorized")))
		Expect(backend.Secrets).ToNot(HaveKey(secretLabel))
	})

	It("should tear down the monitoring user", func() {
		Expect(load(backend.Env("hooks/update-status")).Setup(context.TODO())).To(Succeed())

		r := load(backend.RelationEnv("cos-agent-relation-broken", 5))
		Expect(r.Exists()).To(BeFalse())
		Expect(r.IsBreaking()).To(BeTrue())

		cfg, err := r.ExporterConfig()
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg).To(BeNil())

		Expect(r.Teardown(context.TODO())).To(Succeed())
		Expect(ctr.RESTPasswords).To(BeEmpty())
		Expect(backend.Secrets).ToNot(HaveKey(secretLabel))
	})

	It("should do nothing without the relation", func() {
		backend.RemoveRelation(5)
		r := load(backend.Env("hooks/update-status"))
		Expect(r.Exists()).To(BeFalse())
		Expect(r.Publish()).To(Succeed())
		Expect(r.Teardown(context.TODO())).To(Succeed())
	})
})
