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

package routerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("routerapi")

// Error is returned for failed requests
type Error struct {
	HTTPStatus int
	Path       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[router api]: status: %d path: %s msg: %s", e.HTTPStatus, e.Path, e.Message)
}

func newError(resp *http.Response, path string) error {
	rsp := &Error{
		HTTPStatus: resp.StatusCode,
		Path:       path,
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rsp.Message = "can't read body"
		return rsp
	}

	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		rsp.Message = http.StatusText(resp.StatusCode)
		return rsp
	}
	rsp.Message = apiErr.Message
	return rsp
}

func newErrorMsg(msg, path string) error {
	return &Error{Message: msg, Path: path}
}

func (r *routerAPI) makeGetRequest(ctx context.Context, path string, out interface{}) error {
	uri := fmt.Sprintf("%s/%s", r.connectURI, path)
	log.V(2).Info("router api request", "uri", uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return newErrorMsg(fmt.Sprintf("can't create request: %s", err.Error()), path)
	}
	req.SetBasicAuth(r.username, r.password)

	resp, err := r.client.Do(req)
	if err != nil {
		return newErrorMsg(err.Error(), path)
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode != http.StatusOK {
		return newError(resp, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newErrorMsg(fmt.Sprintf("can't decode response: %s", err.Error()), path)
	}
	return nil
}
