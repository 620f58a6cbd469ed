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
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
)

// Container is an in-memory container.Container. Logical paths are kept
// as they are and commands go to a fake CommandRunner.
type Container struct {
	Fs     afero.Fs
	Runner *CommandRunner

	NotReady bool

	RouterEnabled  bool
	RouterTLS      bool
	RouterRestarts int
	RouterStarts   int

	ExporterEnabled bool
	Exporter        *container.ExporterConfig

	RESTPasswords map[string]string
	Hosts         map[string]string

	Revision  string
	Installed bool
	Upgrades  int
}

var _ container.Container = &Container{}

// NewContainer returns an empty fake container
func NewContainer() *Container {
	return &Container{
		Fs:            afero.NewMemMapFs(),
		Runner:        NewCommandRunner(false),
		RESTPasswords: map[string]string{},
		Revision:      "1",
	}
}

// Ready implements container.Container
func (c *Container) Ready() bool {
	return !c.NotReady
}

// Path implements container.Container
func (c *Container) Path(logical string) string {
	return logical
}

// ReadFile implements container.Container
func (c *Container) ReadFile(logical string) ([]byte, error) {
	return afero.ReadFile(c.Fs, logical)
}

// WriteFile implements container.Container
func (c *Container) WriteFile(logical string, data []byte, perm os.FileMode) error {
	if err := c.Fs.MkdirAll(filepath.Dir(logical), 0755); err != nil {
		return err
	}
	return afero.WriteFile(c.Fs, logical, data, perm)
}

// Exists implements container.Container
func (c *Container) Exists(logical string) (bool, error) {
	return afero.Exists(c.Fs, logical)
}

// Remove implements container.Container
func (c *Container) Remove(logical string) error {
	if ok, _ := afero.Exists(c.Fs, logical); !ok {
		return &os.PathError{Op: "remove", Path: logical, Err: os.ErrNotExist}
	}
	return c.Fs.Remove(logical)
}

// MkdirAll implements container.Container
func (c *Container) MkdirAll(logical string) error {
	return c.Fs.MkdirAll(logical, 0755)
}

// RemoveAll implements container.Container
func (c *Container) RemoveAll(logical string) error {
	return c.Fs.RemoveAll(logical)
}

// RunMySQLRouter implements container.Container
func (c *Container) RunMySQLRouter(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return c.Runner.Run(ctx, container.Command{Name: "mysqlrouter", Args: args, Timeout: timeout})
}

// RunMySQLShell implements container.Container
func (c *Container) RunMySQLShell(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return c.Runner.Run(ctx, container.Command{Name: "mysqlsh", Args: args, Timeout: timeout})
}

// RouterServiceEnabled implements container.Container
func (c *Container) RouterServiceEnabled(context.Context) (bool, error) {
	return c.RouterEnabled, nil
}

// UpdateRouterService implements container.Container
func (c *Container) UpdateRouterService(_ context.Context, enabled bool, tls *bool) error {
	if err := container.CheckServiceUpdate(enabled, tls); err != nil {
		return err
	}

	if !enabled {
		c.RouterEnabled = false
		c.RouterTLS = false
		return nil
	}

	if c.RouterEnabled {
		c.RouterRestarts++
	} else {
		c.RouterStarts++
	}
	c.RouterEnabled = true
	c.RouterTLS = *tls
	return nil
}

// ExporterServiceEnabled implements container.Container
func (c *Container) ExporterServiceEnabled(context.Context) (bool, error) {
	return c.ExporterEnabled, nil
}

// UpdateExporterService implements container.Container
func (c *Container) UpdateExporterService(_ context.Context, enabled bool, cfg *container.ExporterConfig) error {
	c.ExporterEnabled = enabled
	c.Exporter = cfg
	return nil
}

// SetRouterRESTAPIPassword implements container.Container
func (c *Container) SetRouterRESTAPIPassword(_ context.Context, user, password string) error {
	c.RESTPasswords[user] = password
	return nil
}

// RemoveRouterRESTAPIPassword implements container.Container
func (c *Container) RemoveRouterRESTAPIPassword(_ context.Context, user string) error {
	delete(c.RESTPasswords, user)
	return nil
}

// Install implements container.Container
func (c *Container) Install(context.Context) error {
	c.Installed = true
	return nil
}

// Upgrade implements container.Container
func (c *Container) Upgrade(context.Context) error {
	c.Upgrades++
	return nil
}

// InstalledRevision implements container.Container
func (c *Container) InstalledRevision(context.Context) (string, error) {
	return c.Revision, nil
}

// UpdateEtcHosts implements container.Container
func (c *Container) UpdateEtcHosts(hosts map[string]string) error {
	c.Hosts = hosts
	return nil
}
