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

package routerapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/routerapi"
)

var _ = Describe("Router REST API client", func() {
	var (
		server *httptest.Server
		status int
		body   string
	)

	BeforeEach(func() {
		status = http.StatusOK
		body = `{"items": [{"name": "bootstrap_ro"}, {"name": "bootstrap_rw"}]}`

		server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "monitoring" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Path != "/api/20190715/routes" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(status)
			w.Write([]byte(body)) // nolint: errcheck
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should list routes", func() {
		api := routerapi.NewFromURI(server.URL+"/api/20190715", "monitoring", "secret")
		routes, err := api.Routes(context.TODO())
		Expect(err).ToNot(HaveOccurred())
		Expect(routes).To(HaveLen(2))
		Expect(routerapi.HasRoute(routes, "bootstrap_rw")).To(BeTrue())
		Expect(routerapi.HasRoute(routes, "bootstrap_x_rw")).To(BeFalse())
	})

	It("should fail with wrong credentials", func() {
		api := routerapi.NewFromURI(server.URL+"/api/20190715", "monitoring", "wrong")
		_, err := api.Routes(context.TODO())

		apiErr := &routerapi.Error{}
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.HTTPStatus).To(Equal(http.StatusUnauthorized))
		Expect(apiErr.Path).To(Equal("routes"))
	})

	It("should report the API error message", func() {
		status = http.StatusInternalServerError
		body = `{"message": "metadata cache not ready"}`

		api := routerapi.NewFromURI(server.URL+"/api/20190715", "monitoring", "secret")
		_, err := api.Routes(context.TODO())
		Expect(err).To(MatchError(ContainSubstring("metadata cache not ready")))
	})

	It("should fail when the router is down", func() {
		url := server.URL
		server.Close()

		api := routerapi.NewFromURI(url+"/api/20190715", "monitoring", "secret")
		_, err := api.Routes(context.TODO())
		Expect(err).To(HaveOccurred())
	})
})
