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

// Package snap runs MySQL Router from the charmed-mysql snap on machines
package snap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var log = logf.Log.WithName("snap")

const (
	routerService   = "mysqlrouter-service"
	exporterService = "mysqlrouter-exporter"

	// snap_daemon is the user snap services run as
	snapDaemonUID = 584788

	hostsBegin = "# BEGIN mysql-router-operator"
	hostsEnd   = "# END mysql-router-operator"
)

// pathPrefixes maps logical directories into the snap layout, the first
// matching prefix wins
var pathPrefixes = []struct {
	logical  string
	physical string
}{
	{container.RouterConfigDir, "/var/snap/" + constants.SnapName + "/current/etc/mysqlrouter"},
	{container.RouterDataDir, "/var/snap/" + constants.SnapName + "/common/var/lib/mysqlrouter"},
	{container.RouterRunDir, "/var/snap/" + constants.SnapName + "/common/run/mysqlrouter"},
	{container.RouterLogDir, "/var/snap/" + constants.SnapName + "/common/var/log/mysqlrouter"},
	{container.TmpDir, "/tmp/snap-private-tmp/snap." + constants.SnapName + "/tmp"},
}

// Snap is the machine container.Container
type Snap struct {
	fs       afero.Fs
	run      container.CommandRunner
	revision string

	// Clock and RetryDelay are used when talking to the snap store
	Clock      clock.Clock
	RetryDelay time.Duration
}

var _ container.Container = &Snap{}

// New returns a Snap driver pinned to the given revision
func New(fs afero.Fs, run container.CommandRunner, revision string) *Snap {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if run == nil {
		run = container.ExecRunner
	}
	return &Snap{
		fs:         fs,
		run:        run,
		revision:   revision,
		Clock:      clock.WallClock,
		RetryDelay: 10 * time.Second,
	}
}

// Ready implements container.Container, the snap is usable once installed
func (s *Snap) Ready() bool {
	return true
}

// Path implements container.Container
func (s *Snap) Path(logical string) string {
	clean := filepath.Clean(logical)
	for _, p := range pathPrefixes {
		if clean == p.logical || strings.HasPrefix(clean, p.logical+"/") {
			return p.physical + strings.TrimPrefix(clean, p.logical)
		}
	}
	return clean
}

// ReadFile implements container.Container
func (s *Snap) ReadFile(logical string) ([]byte, error) {
	return afero.ReadFile(s.fs, s.Path(logical))
}

// WriteFile implements container.Container. Files are owned by the snap
// daemon user so that the router can read them.
func (s *Snap) WriteFile(logical string, data []byte, perm os.FileMode) error {
	path := s.Path(logical)
	if err := afero.WriteFile(s.fs, path, data, perm); err != nil {
		return err
	}
	return s.fs.Chown(path, snapDaemonUID, snapDaemonUID)
}

// Exists implements container.Container
func (s *Snap) Exists(logical string) (bool, error) {
	return afero.Exists(s.fs, s.Path(logical))
}

// Remove implements container.Container
func (s *Snap) Remove(logical string) error {
	return s.fs.Remove(s.Path(logical))
}

// MkdirAll implements container.Container
func (s *Snap) MkdirAll(logical string) error {
	path := s.Path(logical)
	if err := s.fs.MkdirAll(path, 0755); err != nil {
		return err
	}
	return s.fs.Chown(path, snapDaemonUID, snapDaemonUID)
}

// RemoveAll implements container.Container
func (s *Snap) RemoveAll(logical string) error {
	return s.fs.RemoveAll(s.Path(logical))
}

func (s *Snap) snapCommand(ctx context.Context, args ...string) (string, error) {
	return s.run(ctx, container.Command{Name: "snap", Args: args, Timeout: 5 * time.Minute})
}

// RunMySQLRouter implements container.Container
func (s *Snap) RunMySQLRouter(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return s.run(ctx, container.Command{Name: constants.SnapName + ".mysqlrouter", Args: args, Timeout: timeout})
}

// RunMySQLShell implements container.Container
func (s *Snap) RunMySQLShell(ctx context.Context, args []string, timeout time.Duration) (string, error) {
	return s.run(ctx, container.Command{Name: constants.SnapName + ".mysqlsh", Args: args, Timeout: timeout})
}

func (s *Snap) serviceActive(ctx context.Context, service string) (bool, error) {
	out, err := s.snapCommand(ctx, "services", constants.SnapName+"."+service)
	if err != nil {
		return false, errors.Wrapf(err, "failed to get status of %s", service)
	}

	// Service  Startup  Current  Notes
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == constants.SnapName+"."+service {
			return fields[2] == "active", nil
		}
	}
	return false, nil
}

// RouterServiceEnabled implements container.Container
func (s *Snap) RouterServiceEnabled(ctx context.Context) (bool, error) {
	return s.serviceActive(ctx, routerService)
}

// UpdateRouterService implements container.Container
func (s *Snap) UpdateRouterService(ctx context.Context, enabled bool, tls *bool) error {
	if err := container.CheckServiceUpdate(enabled, tls); err != nil {
		return err
	}

	var err error
	if tls != nil && *tls {
		_, err = s.snapCommand(ctx, "set", constants.SnapName,
			"mysqlrouter.extra-options=--extra-config "+s.Path(container.TLSConfigFile))
	} else {
		_, err = s.snapCommand(ctx, "unset", constants.SnapName, "mysqlrouter.extra-options")
	}
	if err != nil {
		return errors.Wrap(err, "failed to configure router service")
	}

	service := constants.SnapName + "." + routerService
	if !enabled {
		_, err = s.snapCommand(ctx, "stop", "--disable", service)
		return errors.Wrap(err, "failed to stop router service")
	}

	active, err := s.serviceActive(ctx, routerService)
	if err != nil {
		return err
	}
	if active {
		_, err = s.snapCommand(ctx, "restart", service)
		return errors.Wrap(err, "failed to restart router service")
	}
	_, err = s.snapCommand(ctx, "start", "--enable", service)
	return errors.Wrap(err, "failed to start router service")
}

// ExporterServiceEnabled implements container.Container
func (s *Snap) ExporterServiceEnabled(ctx context.Context) (bool, error) {
	return s.serviceActive(ctx, exporterService)
}

// UpdateExporterService implements container.Container
func (s *Snap) UpdateExporterService(ctx context.Context, enabled bool, cfg *container.ExporterConfig) error {
	service := constants.SnapName + "." + exporterService
	keys := []string{"mysqlrouter-exporter.user", "mysqlrouter-exporter.password",
		"mysqlrouter-exporter.url", "mysqlrouter-exporter.listen-port"}

	if !enabled {
		if _, err := s.snapCommand(ctx, "stop", "--disable", service); err != nil {
			return errors.Wrap(err, "failed to stop exporter service")
		}
		_, err := s.snapCommand(ctx, append([]string{"unset", constants.SnapName}, keys...)...)
		return errors.Wrap(err, "failed to unset exporter config")
	}

	if cfg == nil {
		return errors.New("exporter config is required to enable the exporter")
	}

	if _, err := s.snapCommand(ctx, "set", constants.SnapName,
		keys[0]+"="+cfg.Username,
		keys[1]+"="+cfg.Password,
		keys[2]+"="+cfg.URL,
		fmt.Sprintf("%s=%d", keys[3], constants.ExporterPort),
	); err != nil {
		return errors.Wrap(err, "failed to set exporter config")
	}

	_, err := s.snapCommand(ctx, "start", "--enable", service)
	return errors.Wrap(err, "failed to start exporter service")
}

// SetRouterRESTAPIPassword implements container.Container
func (s *Snap) SetRouterRESTAPIPassword(ctx context.Context, user, password string) error {
	_, err := s.run(ctx, container.Command{
		Name:    constants.SnapName + ".mysqlrouter-passwd",
		Args:    []string{"set", s.Path(container.RESTAPICredsFile), user},
		Stdin:   []byte(password),
		Timeout: 30 * time.Second,
	})
	return errors.Wrap(err, "failed to set REST API password")
}

// RemoveRouterRESTAPIPassword implements container.Container
func (s *Snap) RemoveRouterRESTAPIPassword(ctx context.Context, user string) error {
	_, err := s.run(ctx, container.Command{
		Name:    constants.SnapName + ".mysqlrouter-passwd",
		Args:    []string{"delete", s.Path(container.RESTAPICredsFile), user},
		Timeout: 30 * time.Second,
	})
	return errors.Wrap(err, "failed to delete REST API password")
}

func (s *Snap) withRetry(what string, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func:     fn,
		Attempts: 3,
		Delay:    s.RetryDelay,
		Clock:    s.Clock,
		NotifyFunc: func(err error, attempt int) {
			log.Info("snap store call failed, retrying", "op", what, "attempt", attempt, "error", err.Error())
		},
	})
	if err != nil {
		return errors.Wrapf(retry.LastError(err), "failed to %s %s snap", what, constants.SnapName)
	}
	return nil
}

// Install implements container.Container
func (s *Snap) Install(ctx context.Context) error {
	current, err := s.InstalledRevision(ctx)
	if err != nil {
		return err
	}
	if current == s.revision {
		log.Info("snap already installed", "revision", current)
		return nil
	}

	err = s.withRetry("install", func() error {
		_, err := s.snapCommand(ctx, "install", constants.SnapName, "--revision", s.revision)
		return err
	})
	if err != nil {
		return err
	}

	// the charm refreshes the snap, not snapd
	_, err = s.snapCommand(ctx, "refresh", "--hold", constants.SnapName)
	return errors.Wrap(err, "failed to hold snap refreshes")
}

// Upgrade implements container.Container
func (s *Snap) Upgrade(ctx context.Context) error {
	return s.withRetry("refresh", func() error {
		_, err := s.snapCommand(ctx, "refresh", constants.SnapName, "--revision", s.revision)
		return err
	})
}

// InstalledRevision implements container.Container, it returns empty string
// when the snap is not installed
func (s *Snap) InstalledRevision(ctx context.Context) (string, error) {
	out, err := s.snapCommand(ctx, "list", constants.SnapName)
	if err != nil {
		var failure *container.ProcessFailure
		if errors.As(err, &failure) {
			return "", nil
		}
		return "", err
	}

	// Name  Version  Rev  Tracking  Publisher  Notes
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[0] == constants.SnapName {
			return fields[2], nil
		}
	}
	return "", nil
}

// UpdateEtcHosts implements container.Container, it keeps the entries in a
// marked block of the host /etc/hosts
func (s *Snap) UpdateEtcHosts(hosts map[string]string) error {
	data, err := afero.ReadFile(s.fs, "/etc/hosts")
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	lines := []string{}
	inBlock := false
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		switch {
		case line == hostsBegin:
			inBlock = true
		case line == hostsEnd:
			inBlock = false
		case !inBlock && (line != "" || len(lines) > 0):
			lines = append(lines, line)
		}
	}

	if len(hosts) > 0 {
		names := make([]string, 0, len(hosts))
		for name := range hosts {
			names = append(names, name)
		}
		sort.Strings(names)

		lines = append(lines, hostsBegin)
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("%s %s", hosts[name], name))
		}
		lines = append(lines, hostsEnd)
	}

	return afero.WriteFile(s.fs, "/etc/hosts", []byte(strings.Join(lines, "\n")+"\n"), 0644)
}
