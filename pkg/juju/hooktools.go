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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ToolRunner executes a hook tool and returns its stdout
type ToolRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// ToolError is returned when a hook tool exits with an error
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %s: %s", e.Tool, e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecToolRunner runs hook tools from PATH, as set up by the controller
func ExecToolRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		return nil, &ToolError{Tool: name, Stderr: stderr.String(), Err: err}
	}

	return stdout.Bytes(), nil
}

// HookTools is the Backend that talks to the controller through hook tools
type HookTools struct {
	ctx context.Context
	run ToolRunner
}

var _ Backend = &HookTools{}

// NewHookTools returns a Backend that uses the given runner, ExecToolRunner when nil
func NewHookTools(ctx context.Context, run ToolRunner) *HookTools {
	if run == nil {
		run = ExecToolRunner
	}
	return &HookTools{ctx: ctx, run: run}
}

func (h *HookTools) call(name string, args ...string) ([]byte, error) {
	log.V(2).Info("running hook tool", "tool", name)
	return h.run(h.ctx, nil, name, args...)
}

func (h *HookTools) callJSON(out interface{}, name string, args ...string) error {
	args = append(args, "--format=json")
	data, err := h.call(name, args...)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s output", name)
	}
	return nil
}

// RelationIDs implements Backend
func (h *HookTools) RelationIDs(endpoint string) ([]int, error) {
	var raw []string
	if err := h.callJSON(&raw, "relation-ids", endpoint); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(raw))
	for _, r := range raw {
		id, err := ParseRelationID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// RelationRemoteApp implements Backend
func (h *HookTools) RelationRemoteApp(relationID int) (string, error) {
	var app string
	err := h.callJSON(&app, "relation-list", "-r", strconv.Itoa(relationID), "--app")
	return app, err
}

// RelationUnits implements Backend
func (h *HookTools) RelationUnits(relationID int) ([]string, error) {
	var units []string
	err := h.callJSON(&units, "relation-list", "-r", strconv.Itoa(relationID))
	return units, err
}

// RelationGet implements Backend
func (h *HookTools) RelationGet(relationID int, owner string, app bool) (map[string]string, error) {
	args := []string{"-r", strconv.Itoa(relationID)}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", owner)

	data := map[string]string{}
	if err := h.callJSON(&data, "relation-get", args...); err != nil {
		return nil, err
	}
	return data, nil
}

// RelationSet implements Backend
func (h *HookTools) RelationSet(relationID int, app bool, values map[string]string) error {
	args := []string{"-r", strconv.Itoa(relationID)}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "--file", "-")

	// relation-set reads YAML from the file and JSON is valid YAML
	content, err := json.Marshal(values)
	if err != nil {
		return err
	}
	_, err = h.run(h.ctx, content, "relation-set", args...)
	return err
}

// IsLeader implements Backend
func (h *HookTools) IsLeader() (bool, error) {
	var leader bool
	err := h.callJSON(&leader, "is-leader")
	return leader, err
}

// StatusSet implements Backend
func (h *HookTools) StatusSet(app bool, status Status) error {
	args := []string{}
	if app {
		args = append(args, "--application")
	}
	args = append(args, string(status.Kind), status.Message)
	_, err := h.call("status-set", args...)
	return err
}

// ApplicationVersionSet implements Backend
func (h *HookTools) ApplicationVersionSet(version string) error {
	_, err := h.call("application-version-set", version)
	return err
}

// ConfigGet implements Backend
func (h *HookTools) ConfigGet() (map[string]interface{}, error) {
	cfg := map[string]interface{}{}
	err := h.callJSON(&cfg, "config-get")
	return cfg, err
}

func isNotFound(err error) bool {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return strings.Contains(toolErr.Stderr, "not found")
	}
	return false
}

// SecretGet implements Backend
func (h *HookTools) SecretGet(label string) (map[string]string, error) {
	content := map[string]string{}
	err := h.callJSON(&content, "secret-get", "--label", label)
	if isNotFound(err) {
		return nil, ErrSecretNotFound
	}
	return content, err
}

// SecretGetByID implements Backend
func (h *HookTools) SecretGetByID(id string) (map[string]string, error) {
	content := map[string]string{}
	err := h.callJSON(&content, "secret-get", id)
	if isNotFound(err) {
		return nil, ErrSecretNotFound
	}
	return content, err
}

func (h *HookTools) secretID(label string) (string, error) {
	info := map[string]json.RawMessage{}
	err := h.callJSON(&info, "secret-info-get", "--label", label)
	if isNotFound(err) {
		return "", ErrSecretNotFound
	} else if err != nil {
		return "", err
	}

	for id := range info {
		return id, nil
	}
	return "", ErrSecretNotFound
}

func keyValueArgs(content map[string]string) []string {
	args := make([]string, 0, len(content))
	for k, v := range content {
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(args)
	return args
}

// SecretAdd implements Backend
func (h *HookTools) SecretAdd(label string, content map[string]string) error {
	args := append([]string{"--label", label, "--owner", "unit"}, keyValueArgs(content)...)
	_, err := h.call("secret-add", args...)
	return err
}

// SecretSet implements Backend
func (h *HookTools) SecretSet(label string, content map[string]string) error {
	id, err := h.secretID(label)
	if err != nil {
		return err
	}
	_, err = h.call("secret-set", append([]string{id}, keyValueArgs(content)...)...)
	return err
}

// SecretRemove implements Backend
func (h *HookTools) SecretRemove(label string) error {
	id, err := h.secretID(label)
	if err != nil {
		return err
	}
	_, err = h.call("secret-remove", id)
	return err
}

// ActionGet implements Backend
func (h *HookTools) ActionGet() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	err := h.callJSON(&params, "action-get")
	return params, err
}

// ActionSet implements Backend
func (h *HookTools) ActionSet(results map[string]string) error {
	_, err := h.call("action-set", keyValueArgs(results)...)
	return err
}

// ActionFail implements Backend
func (h *HookTools) ActionFail(message string) error {
	_, err := h.call("action-fail", message)
	return err
}

// OpenPort implements Backend
func (h *HookTools) OpenPort(port int) error {
	_, err := h.call("open-port", fmt.Sprintf("%d/tcp", port))
	return err
}

// ClosePort implements Backend
func (h *HookTools) ClosePort(port int) error {
	_, err := h.call("close-port", fmt.Sprintf("%d/tcp", port))
	return err
}

// OpenedPorts implements Backend
func (h *HookTools) OpenedPorts() ([]int, error) {
	var raw []string
	if err := h.callJSON(&raw, "opened-ports"); err != nil {
		return nil, err
	}

	ports := []int{}
	for _, p := range raw {
		port, err := strconv.Atoi(strings.TrimSuffix(p, "/tcp"))
		if err != nil {
			// ranges and udp ports are not opened by us
			continue
		}
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports, nil
}

// IngressAddress implements Backend
func (h *HookTools) IngressAddress(binding string) (string, error) {
	var address string
	err := h.callJSON(&address, "network-get", binding, "--ingress-address")
	return address, err
}

// StateGet implements Backend
func (h *HookTools) StateGet() (map[string]string, error) {
	state := map[string]string{}
	err := h.callJSON(&state, "state-get")
	return state, err
}

// StateSet implements Backend
func (h *HookTools) StateSet(values map[string]string) error {
	set := map[string]string{}
	for k, v := range values {
		if v == "" {
			if _, err := h.call("state-delete", k); err != nil {
				return err
			}
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return nil
	}
	_, err := h.call("state-set", keyValueArgs(set)...)
	return err
}
