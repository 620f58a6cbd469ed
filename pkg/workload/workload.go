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

// Package workload drives the MySQL Router process: bootstrap, configuration,
// TLS and the metrics exporter
package workload

import (
	"context"
	"net"
	"regexp"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
)

var log = logf.Log.WithName("workload")

const (
	bootstrapTimeout = 30 * time.Second
	readinessTimeout = 30 * time.Second
	readinessDelay   = 5 * time.Second
)

var versionRe = regexp.MustCompile(`Ver (\d+\.\d+\.\d+)`)

// TLS holds the key and certificate the router serves to clients
type TLS struct {
	Key         string
	Certificate string
}

// Options is the desired state of the workload
type Options struct {
	// Connection is nil when the upstream relation is not usable, the router
	// is disabled in that case
	Connection *mysqlsh.Connection
	Shell      mysqlsh.Interface

	// External binds the router on TCP instead of UNIX sockets
	External bool
	// TLS is nil when TLS is disabled
	TLS *TLS
	// Exporter is nil when the metrics exporter is disabled
	Exporter *container.ExporterConfig
	// Hosts is the upstream hostname to address map
	Hosts map[string]string
}

// Authenticated returns true when the workload can connect to the upstream cluster
func (o *Options) Authenticated() bool {
	return o.Connection != nil && o.Shell != nil
}

// Workload is the MySQL Router running in a container
type Workload struct {
	container container.Container
	unitName  string

	Clock            clock.Clock
	ReadinessTimeout time.Duration
	ReadinessDelay   time.Duration
	// Dial is used by readiness checks
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// New returns the workload of the given unit
func New(c container.Container, unitName string) *Workload {
	dialer := &net.Dialer{Timeout: time.Second}
	return &Workload{
		container:        c,
		unitName:         unitName,
		Clock:            clock.WallClock,
		ReadinessTimeout: readinessTimeout,
		ReadinessDelay:   readinessDelay,
		Dial:             dialer.DialContext,
	}
}

// Enabled returns true when the router service is running
func (w *Workload) Enabled(ctx context.Context) (bool, error) {
	if !w.container.Ready() {
		return false, nil
	}
	return w.container.RouterServiceEnabled(ctx)
}

// Version returns the MySQL Router version or empty string if it can't be
// determined
func (w *Workload) Version(ctx context.Context) (string, error) {
	if !w.container.Ready() {
		return "", nil
	}
	out, err := w.container.RunMySQLRouter(ctx, []string{"--version"}, 0)
	if err != nil {
		return "", errors.Wrap(err, "failed to get router version")
	}
	if m := versionRe.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return "", nil
}

// Reconcile drives the router into the desired state
func (w *Workload) Reconcile(ctx context.Context, opts Options) error {
	if !w.container.Ready() {
		log.Info("container not ready, skipping workload reconcile")
		return nil
	}

	if !opts.Authenticated() {
		return w.disableAll(ctx)
	}

	if len(opts.Hosts) > 0 {
		if err := w.container.UpdateEtcHosts(opts.Hosts); err != nil {
			return errors.Wrap(err, "failed to update /etc/hosts")
		}
	}

	if opts.TLS != nil {
		if err := w.enableTLS(ctx, opts.TLS); err != nil {
			return err
		}
	} else if err := w.disableTLS(ctx); err != nil {
		return err
	}

	enabled, err := w.container.RouterServiceEnabled(ctx)
	if err != nil {
		return err
	}

	if enabled {
		external, err := w.bootstrappedExternal()
		if err != nil {
			return err
		}
		if external != opts.External {
			log.Info("router connectivity changed, bootstrapping again", "external", opts.External)
			if err = w.Disable(ctx); err != nil {
				return err
			}
			// the TLS files were removed with the configuration
			if opts.TLS != nil {
				if err = w.enableTLS(ctx, opts.TLS); err != nil {
					return err
				}
			}
			enabled = false
		}
	}

	if !enabled {
		if err = w.enable(ctx, opts); err != nil {
			return err
		}
	}

	return w.reconcileExporter(ctx, opts.Exporter)
}

func (w *Workload) reconcileExporter(ctx context.Context, cfg *container.ExporterConfig) error {
	enabled, err := w.container.ExporterServiceEnabled(ctx)
	if err != nil {
		return err
	}

	switch {
	case cfg != nil && !enabled:
		log.Info("enabling metrics exporter")
		return w.container.UpdateExporterService(ctx, true, cfg)
	case cfg == nil && enabled:
		log.Info("disabling metrics exporter")
		return w.container.UpdateExporterService(ctx, false, nil)
	}
	return nil
}

func (w *Workload) disableAll(ctx context.Context) error {
	if err := w.reconcileExporter(ctx, nil); err != nil {
		return err
	}

	enabled, err := w.container.RouterServiceEnabled(ctx)
	if err != nil {
		return err
	}
	if enabled {
		if err = w.Disable(ctx); err != nil {
			return err
		}
	}
	return w.disableTLS(ctx)
}

// Disable stops the router and removes its configuration and data
func (w *Workload) Disable(ctx context.Context) error {
	log.Info("disabling router")
	if err := w.container.UpdateRouterService(ctx, false, nil); err != nil {
		return errors.Wrap(err, "failed to stop router")
	}

	for _, dir := range []string{container.RouterConfigDir, container.RouterDataDir} {
		if err := w.container.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "failed to remove %s", dir)
		}
		if err := w.container.MkdirAll(dir); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	return nil
}

// Upgrade stops the router and upgrades the packaged workload. The next
// reconcile bootstraps the router again.
func (w *Workload) Upgrade(ctx context.Context) error {
	if err := w.reconcileExporter(ctx, nil); err != nil {
		return err
	}

	enabled, err := w.container.RouterServiceEnabled(ctx)
	if err != nil {
		return err
	}
	if enabled {
		if err = w.Disable(ctx); err != nil {
			return err
		}
	}

	log.Info("upgrading workload")
	return errors.Wrap(w.container.Upgrade(ctx), "failed to upgrade workload")
}

// Teardown removes the router from the upstream cluster and disables it
func (w *Workload) Teardown(ctx context.Context, shell mysqlsh.Interface) error {
	if !w.container.Ready() {
		return nil
	}

	if shell != nil {
		user, routerID, err := w.routerIdentity()
		if err != nil && !container.IsNotExist(err) {
			return err
		}
		if err == nil {
			if err = shell.RemoveRouterFromClusterMetadata(ctx, routerID); err != nil {
				return err
			}
			if err = shell.DeleteUser(ctx, user, false); err != nil {
				return err
			}
		}
	}

	return w.disableAll(ctx)
}

// Status returns the status of the workload or nil when there is nothing to report
func (w *Workload) Status(ctx context.Context, opts Options) (*juju.Status, error) {
	if !w.container.Ready() {
		return juju.MaintenanceStatus("Waiting for container"), nil
	}
	if !opts.Authenticated() {
		return nil, nil
	}

	enabled, err := w.container.RouterServiceEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return juju.WaitingStatus(""), nil
	}

	_, routerID, err := w.routerIdentity()
	if err != nil {
		return nil, err
	}
	registered, err := opts.Shell.IsRouterInClusterSet(ctx, routerID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return juju.BlockedStatus("Router was manually removed from MySQL ClusterSet. Remove & re-deploy unit"), nil
	}
	return nil, nil
}
