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

// Package pebble runs MySQL Router in a Kubernetes workload container managed by Pebble
package pebble

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/canonical/pebble/client"
	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var log = logf.Log.WithName("pebble")

const (
	routerService   = "mysql_router"
	exporterService = "mysql_router_exporter"

	unixUser = "mysql"

	// DefaultSocket is where the charm container sees the workload pebble socket
	DefaultSocket = "/charm/containers/mysql-router/pebble.socket"
)

// Client is the subset of the pebble client used by the container
type Client interface {
	SysInfo() (*client.SysInfo, error)
	Push(opts *client.PushOptions) error
	Pull(opts *client.PullOptions) error
	ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error)
	RemovePath(opts *client.RemovePathOptions) error
	MakeDir(opts *client.MakeDirOptions) error
	Exec(opts *client.ExecOptions) (*client.ExecProcess, error)
	AddLayer(opts *client.AddLayerOptions) error
	Services(opts *client.ServicesOptions) ([]*client.ServiceInfo, error)
	Start(opts *client.ServiceOptions) (string, error)
	Stop(opts *client.ServiceOptions) (string, error)
	Restart(opts *client.ServiceOptions) (string, error)
	WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error)
}

// Pebble is the Kubernetes container.Container
type Pebble struct {
	client Client
	run    container.CommandRunner
}

var _ container.Container = &Pebble{}

// New returns a Pebble driver. Commands are run through pebble exec unless
// run is given.
func New(c Client, run container.CommandRunner) *Pebble {
	p := &Pebble{client: c, run: run}
	if p.run == nil {
		p.run = p.exec
	}
	return p
}

// NewForSocket connects to the pebble daemon listening on socket
func NewForSocket(socket string) (*Pebble, error) {
	c, err := client.New(&client.Config{Socket: socket})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pebble client")
	}
	return New(c, nil), nil
}

// Ready implements container.Container
func (p *Pebble) Ready() bool {
	if _, err := p.client.SysInfo(); err != nil {
		log.V(1).Info("pebble not reachable", "error", err.Error())
		return false
	}
	return true
}

// Path implements container.Container, the router sees the container filesystem as is
func (p *Pebble) Path(logical string) string {
	return filepath.Clean(logical)
}

func isNotFound(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "not found"))
}

func notExist(op, path string) error {
	return &os.PathError{Op: op, Path: path, Err: os.ErrNotExist}
}

// ReadFile implements container.Container
func (p *Pebble) ReadFile(logical string) ([]byte, error) {
	var buf bytes.Buffer
	err := p.client.Pull(&client.PullOptions{Path: logical, Target: &buf})
	if isNotFound(err) {
		return nil, notExist("read", logical)
	} else if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile implements container.Container
func (p *Pebble) WriteFile(logical string, data []byte, perm os.FileMode) error {
	return p.client.Push(&client.PushOptions{
		Source:      bytes.NewReader(data),
		Path:        logical,
		MakeDirs:    true,
		Permissions: perm,
		User:        unixUser,
		Group:       unixUser,
	})
}

// Exists implements container.Container
func (p *Pebble) Exists(logical string) (bool, error) {
	_, err := p.client.ListFiles(&client.ListFilesOptions{Path: logical, Itself: true})
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Remove implements container.Container
func (p *Pebble) Remove(logical string) error {
	err := p.client.RemovePath(&client.RemovePathOptions{Path: logical})
	if isNotFound(err) {
		return notExist("remove", logical)
	}
	return err
}

// MkdirAll implements container.Container
func (p *Pebble) MkdirAll(logical string) error {
	return p.client.MakeDir(&client.MakeDirOptions{
		Path:        logical,
		MakeParents: true,
		Permissions: 0755,
		User:        unixUser,
		Group:       unixUser,
	})
}

// RemoveAll implements container.Container
func (p *Pebble) RemoveAll(logical string) error {
	err := p.client.RemovePath(&client.RemovePathOptions{Path: logical, Recursive: true})
	if isNotFound(err) {
		return nil
	}
	return err
}

func (p *Pebble) exec(_ context.Context, cmd container.Command) (string, error) {
	var stdout, stderr bytes.Buffer
	opts := &client.ExecOptions{
		Command: cmd.Argv(),
		Timeout: cmd.Timeout,
		User:    unixUser,
		Group:   unixUser,
		Stdout:  &stdout,
		Stderr:  &stderr,
	}
	if cmd.Stdin != nil {
		opts.Stdin = bytes.NewReader(cmd.Stdin)
	} else {
		opts.Stdin = bytes.NewReader(nil)
	}

	process, err := p.client.Exec(opts)
	if err != nil {
		return "", errors.Wrapf(err, "failed to exec %s", cmd.Name)
	}

	err = process.Wait()
	var exitErr *client.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &container.ProcessFailure{
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Cmd:      cmd.Argv(),
		}
	} else if err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// RunMySQLRouter implements container.Container
func (p *Pebble) RunMySQLRouter(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return p.run(ctx, container.Command{Name: "mysqlrouter", Args: args, Timeout: timeout})
}

// RunMySQLShell implements container.Container
func (p *Pebble) RunMySQLShell(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return p.run(ctx, container.Command{Name: "mysqlsh", Args: args, Timeout: timeout})
}

func (p *Pebble) serviceActive(name string) (bool, error) {
	services, err := p.client.Services(&client.ServicesOptions{Names: []string{name}})
	if err != nil {
		return false, errors.Wrapf(err, "failed to get status of %s", name)
	}
	for _, s := range services {
		if s.Name == name {
			return s.Current == client.StatusActive, nil
		}
	}
	return false, nil
}

type layerService struct {
	Override    string            `json:"override"`
	Summary     string            `json:"summary"`
	Command     string            `json:"command"`
	Startup     string            `json:"startup"`
	User        string            `json:"user"`
	Group       string            `json:"group"`
	Environment map[string]string `json:"environment,omitempty"`
}

type layer struct {
	Summary  string                  `json:"summary"`
	Services map[string]layerService `json:"services"`
}

func (p *Pebble) addServiceLayer(name, summary, command string, enabled bool, env map[string]string) error {
	startup := "disabled"
	if enabled {
		startup = "enabled"
	}
	data, err := yaml.Marshal(layer{
		Summary: summary,
		Services: map[string]layerService{
			name: {
				Override:    "replace",
				Summary:     summary,
				Command:     command,
				Startup:     startup,
				User:        unixUser,
				Group:       unixUser,
				Environment: env,
			},
		},
	})
	if err != nil {
		return err
	}

	return p.client.AddLayer(&client.AddLayerOptions{Combine: true, Label: name, LayerData: data})
}

func (p *Pebble) waitChange(id string, err error) error {
	if err != nil {
		return err
	}
	change, err := p.client.WaitChange(id, &client.WaitChangeOptions{Timeout: time.Minute})
	if err != nil {
		return err
	}
	if change.Err != "" {
		return errors.New(change.Err)
	}
	return nil
}

// replan does not stop disabled services, so services are restarted or stopped explicitly
func (p *Pebble) setService(name string, enabled bool) error {
	opts := &client.ServiceOptions{Names: []string{name}}
	if enabled {
		return p.waitChange(p.client.Restart(opts))
	}
	active, err := p.serviceActive(name)
	if err != nil || !active {
		return err
	}
	return p.waitChange(p.client.Stop(opts))
}

// RouterServiceEnabled implements container.Container
func (p *Pebble) RouterServiceEnabled(context.Context) (bool, error) {
	return p.serviceActive(routerService)
}

// UpdateRouterService implements container.Container
func (p *Pebble) UpdateRouterService(_ context.Context, enabled bool, tls *bool) error {
	if err := container.CheckServiceUpdate(enabled, tls); err != nil {
		return err
	}

	command := "mysqlrouter --config " + container.RouterConfigFile
	if tls != nil && *tls {
		command += " --extra-config " + container.TLSConfigFile
	}

	if err := p.addServiceLayer(routerService, "MySQL Router", command, enabled, nil); err != nil {
		return errors.Wrap(err, "failed to add router layer")
	}
	return errors.Wrap(p.setService(routerService, enabled), "failed to update router service")
}

// ExporterServiceEnabled implements container.Container
func (p *Pebble) ExporterServiceEnabled(context.Context) (bool, error) {
	return p.serviceActive(exporterService)
}

// UpdateExporterService implements container.Container
func (p *Pebble) UpdateExporterService(_ context.Context, enabled bool, cfg *container.ExporterConfig) error {
	env := map[string]string{}
	if enabled {
		if cfg == nil {
			return errors.New("exporter config is required to enable the exporter")
		}
		env = map[string]string{
			"MYSQLROUTER_EXPORTER_URL":         cfg.URL,
			"MYSQLROUTER_EXPORTER_USER":        cfg.Username,
			"MYSQLROUTER_EXPORTER_PASS":        cfg.Password,
			"MYSQLROUTER_EXPORTER_LISTEN_PORT": fmt.Sprintf("%d", constants.ExporterPort),
		}
	}

	if err := p.addServiceLayer(exporterService, "MySQL Router exporter", "/start-mysql-router-exporter.sh", enabled, env); err != nil {
		return errors.Wrap(err, "failed to add exporter layer")
	}
	return errors.Wrap(p.setService(exporterService, enabled), "failed to update exporter service")
}

// UpdateService adds a service running command in the workload container.
// An active service that is wanted is left running.
func (p *Pebble) UpdateService(_ context.Context, name, summary, command string, enabled bool) error {
	active, err := p.serviceActive(name)
	if err != nil {
		return err
	}
	if active == enabled {
		return nil
	}

	if err := p.addServiceLayer(name, summary, command, enabled, nil); err != nil {
		return errors.Wrapf(err, "failed to add %s layer", name)
	}
	return errors.Wrapf(p.setService(name, enabled), "failed to update %s service", name)
}

// SetRouterRESTAPIPassword implements container.Container
func (p *Pebble) SetRouterRESTAPIPassword(ctx context.Context, user, password string) error {
	_, err := p.run(ctx, container.Command{
		Name:    "mysqlrouter_passwd",
		Args:    []string{"set", container.RESTAPICredsFile, user},
		Stdin:   []byte(password),
		Timeout: 30 * time.Second,
	})
	return errors.Wrap(err, "failed to set REST API password")
}

// RemoveRouterRESTAPIPassword implements container.Container
func (p *Pebble) RemoveRouterRESTAPIPassword(ctx context.Context, user string) error {
	_, err := p.run(ctx, container.Command{
		Name:    "mysqlrouter_passwd",
		Args:    []string{"delete", container.RESTAPICredsFile, user},
		Timeout: 30 * time.Second,
	})
	return errors.Wrap(err, "failed to delete REST API password")
}

// Install implements container.Container, the rock ships the workload
func (p *Pebble) Install(context.Context) error {
	return nil
}

// Upgrade implements container.Container, Kubernetes replaces the pod
func (p *Pebble) Upgrade(context.Context) error {
	return nil
}

// InstalledRevision implements container.Container, the pod revision is
// tracked by the upgrade partition store
func (p *Pebble) InstalledRevision(context.Context) (string, error) {
	return "", nil
}

// UpdateEtcHosts implements container.Container
func (p *Pebble) UpdateEtcHosts(hosts map[string]string) error {
	if len(hosts) == 0 {
		return nil
	}
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := p.ReadFile("/etc/hosts")
	if err != nil && !container.IsNotExist(err) {
		return err
	}
	content := string(data)
	for _, name := range names {
		entry := fmt.Sprintf("%s %s", hosts[name], name)
		if !strings.Contains(content, entry) {
			content = strings.TrimRight(content, "\n") + "\n" + entry + "\n"
		}
	}
	return p.WriteFile("/etc/hosts", []byte(content), 0644)
}
