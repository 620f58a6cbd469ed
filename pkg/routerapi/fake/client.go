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

package fake

import (
	"context"
	"sync"

	"github.com/bitpoke/mysql-router-operator/pkg/routerapi"
)

// Client is a fake router REST API. Each call to Routes pops the first
// entry of Responses, the last entry is kept for subsequent calls.
type Client struct {
	lock sync.Mutex

	Username string
	Password string

	Responses []Response
	Calls     int
}

// Response is the answer to a Routes call
type Response struct {
	Routes []routerapi.Route
	Err    error
}

// New returns a fake client
func New(responses ...Response) *Client {
	return &Client{Responses: responses}
}

// Factory returns a constructor suitable to replace routerapi.NewFromURI
func (c *Client) Factory() func(uri, username, password string) routerapi.Interface {
	return func(_, username, password string) routerapi.Interface {
		c.Username = username
		c.Password = password
		return c
	}
}

// Routes implements routerapi.Interface
func (c *Client) Routes(context.Context) ([]routerapi.Route, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.Calls++
	if len(c.Responses) == 0 {
		return nil, &routerapi.Error{HTTPStatus: 503, Message: "unavailable"}
	}
	rsp := c.Responses[0]
	if len(c.Responses) > 1 {
		c.Responses = c.Responses[1:]
	}
	return rsp.Routes, rsp.Err
}
