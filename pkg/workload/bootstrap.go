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

package workload

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/go-ini/ini"
	"github.com/juju/retry"
	"github.com/pkg/errors"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

func init() {
	// mysqlrouter.conf starts with a [DEFAULT] section that must keep its header
	ini.DefaultHeader = true
}

var socketNames = []string{"mysql.sock", "mysqlro.sock"}

var tcpPorts = []int{
	constants.RouterReadWritePort,
	constants.RouterReadOnlyPort,
	constants.RouterReadWriteXPort,
	constants.RouterReadOnlyXPort,
}

func bootstrapArgs(opts Options) []string {
	conn := opts.Connection
	args := []string{
		"--bootstrap", fmt.Sprintf("%s:%s@%s:%d", conn.Username, conn.Password, conn.Host, conn.Port),
		"--strict",
		"--conf-set-option", "http_server.bind_address=127.0.0.1",
		"--conf-use-gr-notifications",
	}

	if opts.External {
		return append(args, "--conf-bind-address", "0.0.0.0")
	}

	return append(args,
		"--conf-use-sockets",
		// the first authentication over the socket fails otherwise
		"--conf-set-option", "DEFAULT.server_ssl_mode=PREFERRED",
		"--conf-skip-tcp",
	)
}

// enable bootstraps the router and starts it
func (w *Workload) enable(ctx context.Context, opts Options) error {
	if err := w.cleanupAfterRestart(ctx, opts); err != nil {
		return err
	}

	if err := w.bootstrap(ctx, opts); err != nil {
		return err
	}

	if err := w.configure(); err != nil {
		return err
	}

	user, routerID, err := w.routerIdentity()
	if err != nil {
		return err
	}
	if err = opts.Shell.AddAttributesToRouterUser(ctx, user, routerID, w.unitName); err != nil {
		return err
	}

	log.Info("starting router", "tls", opts.TLS != nil)
	if err = w.container.UpdateRouterService(ctx, true, container.Bool(opts.TLS != nil)); err != nil {
		return errors.Wrap(err, "failed to start router")
	}

	return w.waitUntilReady(ctx, opts.External)
}

// cleanupAfterRestart removes the router user left by a previous instance of this unit
func (w *Workload) cleanupAfterRestart(ctx context.Context, opts Options) error {
	user, err := opts.Shell.GetMySQLRouterUserForUnit(ctx, w.unitName)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	log.Info("removing router left by a previous unit instance", "user", user.Username, "routerID", user.RouterID)
	if err = opts.Shell.RemoveRouterFromClusterMetadata(ctx, user.RouterID); err != nil {
		return err
	}
	return opts.Shell.DeleteUser(ctx, user.Username, true)
}

func (w *Workload) bootstrap(ctx context.Context, opts Options) error {
	args := bootstrapArgs(opts)
	log.Info("bootstrapping router", "external", opts.External)

	if _, err := w.container.RunMySQLRouter(ctx, args, bootstrapTimeout); err != nil {
		// the error holds the command line, which contains the password
		cmd := container.Redact(strings.Join(append([]string{"mysqlrouter"}, args...), " "), opts.Connection.Password)
		log.Info("failed to bootstrap router", "cmd", cmd)
		return errors.New("failed to bootstrap router")
	}
	return nil
}

func loadConfig(data []byte) (*ini.File, error) {
	return ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
}

// configure rewrites the generated configuration: sockets are moved to a
// directory the router user can access and the REST API authenticates
// against the password file
func (w *Workload) configure() error {
	data, err := w.container.ReadFile(container.RouterConfigFile)
	if err != nil {
		return errors.Wrap(err, "failed to read router config")
	}
	cfg, err := loadConfig(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse router config")
	}

	runDir := w.container.Path(container.RouterRunDir)
	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), "routing:") || !sec.HasKey("socket") {
			continue
		}
		socket := sec.Key("socket")
		socket.SetValue(path.Join(runDir, path.Base(socket.String())))
	}

	auth := cfg.Section("http_auth_backend:default_auth_backend")
	auth.Key("backend").SetValue("file")
	auth.Key("filename").SetValue(w.container.Path(container.RESTAPICredsFile))

	if err = w.container.MkdirAll(container.RouterRunDir); err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	if _, err = cfg.WriteTo(buf); err != nil {
		return err
	}
	return errors.Wrap(w.container.WriteFile(container.RouterConfigFile, buf.Bytes(), 0600), "failed to write router config")
}

// routerIdentity returns the router user and id from the bootstrapped config
func (w *Workload) routerIdentity() (string, string, error) {
	data, err := w.container.ReadFile(container.RouterConfigFile)
	if err != nil {
		return "", "", err
	}
	cfg, err := loadConfig(data)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to parse router config")
	}

	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), "metadata_cache") {
			continue
		}
		user, id := sec.Key("user").String(), sec.Key("router_id").String()
		if user == "" || id == "" {
			break
		}
		return user, id, nil
	}
	return "", "", errors.New("router config has no metadata_cache user and router_id")
}

// bootstrappedExternal returns true when the current config listens on TCP
func (w *Workload) bootstrappedExternal() (bool, error) {
	data, err := w.container.ReadFile(container.RouterConfigFile)
	if container.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	cfg, err := loadConfig(data)
	if err != nil {
		return false, errors.Wrap(err, "failed to parse router config")
	}

	for _, sec := range cfg.Sections() {
		if strings.HasPrefix(sec.Name(), "routing:") && sec.HasKey("socket") {
			return false, nil
		}
	}
	return true, nil
}

func (w *Workload) checkReady(ctx context.Context, external bool) error {
	targets := [][2]string{}
	if external {
		for _, port := range tcpPorts {
			targets = append(targets, [2]string{"tcp", fmt.Sprintf("%s:%d", constants.LoopbackAddress, port)})
		}
	} else {
		for _, name := range socketNames {
			targets = append(targets, [2]string{"unix", w.container.Path(path.Join(container.RouterRunDir, name))})
		}
	}

	for _, t := range targets {
		conn, err := w.Dial(ctx, t[0], t[1])
		if err != nil {
			return err
		}
		conn.Close() // nolint: errcheck
	}
	return nil
}

func (w *Workload) waitUntilReady(ctx context.Context, external bool) error {
	err := retry.Call(retry.CallArgs{
		Func:        func() error { return w.checkReady(ctx, external) },
		Delay:       w.ReadinessDelay,
		MaxDuration: w.ReadinessTimeout,
		Clock:       w.Clock,
		Stop:        ctx.Done(),
		NotifyFunc: func(err error, attempt int) {
			log.V(1).Info("router not ready", "attempt", attempt, "error", err.Error())
		},
	})
	if err != nil {
		return errors.Wrap(retry.LastError(err), "router did not become ready")
	}
	return nil
}
