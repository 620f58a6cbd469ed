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

// Package routerapi is a client for the MySQL Router REST API
package routerapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

// DefaultURI is the REST API of the local router
var DefaultURI = fmt.Sprintf("https://127.0.0.1:%d/api/20190715", constants.RouterRESTAPIPort)

// Route is a routing section of the router
type Route struct {
	Name string `json:"name"`
}

// Interface is the router REST API
type Interface interface {
	Routes(ctx context.Context) ([]Route, error)
}

type routerAPI struct {
	connectURI string
	username   string
	password   string
	client     *http.Client
}

// NewFromURI returns a client of the REST API at the given URI that
// authenticates with the given credentials. The router serves the API with
// a self-signed certificate so the certificate is not verified.
func NewFromURI(uri, username, password string) Interface {
	return &routerAPI{
		connectURI: uri,
		username:   username,
		password:   password,
		client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				// nolint: gosec
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (r *routerAPI) Routes(ctx context.Context) ([]Route, error) {
	var out struct {
		Items []Route `json:"items"`
	}
	if err := r.makeGetRequest(ctx, "routes", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// HasRoute returns true if a route with the given name exists
func HasRoute(routes []Route, name string) bool {
	for _, r := range routes {
		if r.Name == name {
			return true
		}
	}
	return false
}
