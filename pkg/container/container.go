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

// Package container gives a uniform interface over the environment that runs
// MySQL Router and MySQL Shell. Paths are always logical (as seen by the
// router, eg. /etc/mysqlrouter/mysqlrouter.conf) and each driver translates
// them to its own layout.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("container")

// Logical paths used by the router
const (
	RouterConfigDir  = "/etc/mysqlrouter"
	RouterDataDir    = "/var/lib/mysqlrouter"
	RouterRunDir     = "/run/mysqlrouter"
	RouterLogDir     = "/var/log/mysqlrouter"
	TmpDir           = "/tmp"
	RouterConfigFile = RouterConfigDir + "/mysqlrouter.conf"
	TLSConfigFile    = RouterConfigDir + "/tls.conf"
	TLSKeyFile       = RouterConfigDir + "/custom-key.pem"
	TLSCertFile      = RouterConfigDir + "/custom-certificate.pem"
	RESTAPICredsFile = RouterConfigDir + "/rest_api_credentials"
)

// ErrTLSUnset is returned when the router service is enabled without telling
// whether TLS is on
var ErrTLSUnset = errors.New("tls must be set when enabling the router service")

// ProcessFailure is returned when a command exits with a non-zero code
type ProcessFailure struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Cmd may hold credentials, it is not part of the error message
	Cmd []string
}

func (e *ProcessFailure) Error() string {
	name := "<unknown>"
	if len(e.Cmd) > 0 {
		name = e.Cmd[0]
	}
	return fmt.Sprintf("command %s exited with code %d", name, e.ExitCode)
}

// ExporterConfig configures the metrics exporter service
type ExporterConfig struct {
	URL      string
	Username string
	Password string
}

// Container is the environment of the router
type Container interface {
	// Ready returns false when the workload environment can not be reached yet
	Ready() bool

	// Path translates a logical path into the path seen from the host
	Path(logical string) string
	ReadFile(logical string) ([]byte, error)
	WriteFile(logical string, data []byte, perm os.FileMode) error
	Exists(logical string) (bool, error)
	// Remove deletes a file, it returns an error satisfying os.IsNotExist for missing files
	Remove(logical string) error
	MkdirAll(logical string) error
	RemoveAll(logical string) error

	RunMySQLRouter(ctx context.Context, args []string, timeout time.Duration) (string, error)
	RunMySQLShell(ctx context.Context, args []string, timeout time.Duration) (string, error)

	RouterServiceEnabled(ctx context.Context) (bool, error)
	// UpdateRouterService starts or stops the router; tls must be set when enabled is true.
	// An enabled service is restarted to pick up configuration changes.
	UpdateRouterService(ctx context.Context, enabled bool, tls *bool) error

	ExporterServiceEnabled(ctx context.Context) (bool, error)
	UpdateExporterService(ctx context.Context, enabled bool, cfg *ExporterConfig) error

	SetRouterRESTAPIPassword(ctx context.Context, user, password string) error
	RemoveRouterRESTAPIPassword(ctx context.Context, user string) error

	// Install and Upgrade manage the packaged workload. Upgrade is a no-op
	// where the workload is upgraded by the platform.
	Install(ctx context.Context) error
	Upgrade(ctx context.Context) error
	// InstalledRevision returns the revision of the packaged workload
	InstalledRevision(ctx context.Context) (string, error)

	// UpdateEtcHosts writes the given name to address mapping
	UpdateEtcHosts(hosts map[string]string) error
}

// CheckServiceUpdate validates UpdateRouterService arguments
func CheckServiceUpdate(enabled bool, tls *bool) error {
	if enabled && tls == nil {
		return ErrTLSUnset
	}
	return nil
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}

// IsNotExist returns true for missing file errors of any driver
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}
