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

// Package profile describes how the operator runs on each substrate: which
// container driver is used, which endpoints are published, how logs are
// rotated and how upgrades are gated
package profile

import (
	"fmt"
	"os"
	"path"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/container/pebble"
	"github.com/bitpoke/mysql-router-operator/pkg/container/snap"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/logrotate"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/downstream"
	"github.com/bitpoke/mysql-router-operator/pkg/relations/tls"
	"github.com/bitpoke/mysql-router-operator/pkg/upgrade"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

const (
	// Machine is the subordinate machine charm
	Machine = "machine"
	// Kubernetes is the sidecar Kubernetes charm
	Kubernetes = "kubernetes"
)

// EndpointParams are the inputs of the endpoint strategy
type EndpointParams struct {
	External  bool
	VIP       string
	Address   string
	AppName   string
	ModelName string
	Container container.Container
}

// DeploymentProfile is the behaviour that differs between substrates
type DeploymentProfile struct {
	Name string

	// AlwaysExternal is set when clients never share the host of the router
	AlwaysExternal bool
	// ExposePorts opens the classic protocol ports in external mode
	ExposePorts bool
	// MachineUpgrade is set when the charm upgrades the workload itself
	MachineUpgrade bool
	// LogSlots are shared with the observability agent
	LogSlots []string

	Endpoints    func(p EndpointParams) downstream.Endpoints
	NewContainer func() (container.Container, error)
	NewLogRotate func(c container.Container) (logrotate.Driver, error)
	NewPlatform  func(m *juju.Model) (upgrade.Platform, error)
	TLSOptions   func(m *juju.Model, address string, external bool) tls.Options
}

// Get returns the profile with the given name
func Get(name string) (*DeploymentProfile, error) {
	switch name {
	case Machine:
		return MachineProfile(), nil
	case Kubernetes:
		return KubernetesProfile(), nil
	default:
		return nil, fmt.Errorf("unknown deployment profile %q", name)
	}
}

// Revision returns the snap revision pinned for the running architecture
func Revision() (string, error) {
	rev, ok := constants.SnapRevisions[runtime.GOARCH]
	if !ok {
		return "", fmt.Errorf("no snap revision for %s architecture", runtime.GOARCH)
	}
	return rev, nil
}

func nonEmpty(values ...string) []string {
	out := []string{}
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// certificateSANs always covers the loopback address, the unit address is
// added only when clients reach the router over the network
func certificateSANs(address string, external bool, names ...string) []string {
	sans := append(nonEmpty(names...), constants.LoopbackAddress)
	if external && address != "" && address != constants.LoopbackAddress {
		sans = append(sans, address)
	}
	return sans
}

func socketEndpoints(c container.Container) downstream.Endpoints {
	return downstream.Endpoints{
		ReadWrite: "file://" + c.Path(path.Join(container.RouterRunDir, "mysql.sock")),
		ReadOnly:  "file://" + c.Path(path.Join(container.RouterRunDir, "mysqlro.sock")),
	}
}

func tcpEndpoints(host string) downstream.Endpoints {
	return downstream.Endpoints{
		ReadWrite: fmt.Sprintf("%s:%d", host, constants.RouterReadWritePort),
		ReadOnly:  fmt.Sprintf("%s:%d", host, constants.RouterReadOnlyPort),
	}
}

// MachineEndpoints publishes unix sockets to clients on the same machine
// and the virtual IP or the unit address otherwise
func MachineEndpoints(p EndpointParams) downstream.Endpoints {
	if !p.External {
		return socketEndpoints(p.Container)
	}
	host := p.VIP
	if host == "" {
		host = p.Address
	}
	return tcpEndpoints(host)
}

// KubernetesEndpoints publishes the application service
func KubernetesEndpoints(p EndpointParams) downstream.Endpoints {
	return tcpEndpoints(fmt.Sprintf("%s.%s.svc.cluster.local", p.AppName, p.ModelName))
}

// MachineProfile runs MySQL Router from the charmed-mysql snap next to the
// principal application
func MachineProfile() *DeploymentProfile {
	return &DeploymentProfile{
		Name:           Machine,
		ExposePorts:    true,
		MachineUpgrade: true,
		LogSlots:       []string{constants.SnapName + ":logs"},
		Endpoints:      MachineEndpoints,
		NewContainer: func() (container.Container, error) {
			rev, err := Revision()
			if err != nil {
				return nil, err
			}
			return snap.New(afero.NewOsFs(), nil, rev), nil
		},
		NewLogRotate: func(c container.Container) (logrotate.Driver, error) {
			return logrotate.NewCron(afero.NewOsFs(), logrotate.Schedule,
				c.Path(container.RouterLogDir), "snap_daemon", "root")
		},
		NewPlatform: func(*juju.Model) (upgrade.Platform, error) {
			rev, err := Revision()
			if err != nil {
				return nil, err
			}
			return &upgrade.Machine{Revision: rev}, nil
		},
		TLSOptions: func(_ *juju.Model, address string, external bool) tls.Options {
			hostname, err := os.Hostname()
			if err != nil {
				hostname = address
			}
			return tls.Options{Hostname: hostname, SANs: certificateSANs(address, external, hostname)}
		},
	}
}

// KubernetesProfile runs MySQL Router in the workload container of the pod
func KubernetesProfile() *DeploymentProfile {
	return &DeploymentProfile{
		Name:           Kubernetes,
		AlwaysExternal: true,
		Endpoints:      KubernetesEndpoints,
		NewContainer: func() (container.Container, error) {
			return pebble.NewForSocket(pebble.DefaultSocket)
		},
		NewLogRotate: func(c container.Container) (logrotate.Driver, error) {
			p, ok := c.(*pebble.Pebble)
			if !ok {
				return nil, errors.New("log rotation service requires the pebble container")
			}
			return logrotate.NewService(c, p, logrotate.Schedule, "mysql", "mysql")
		},
		NewPlatform: func(m *juju.Model) (upgrade.Platform, error) {
			return upgrade.NewInClusterKubernetes(m.ModelName, m.AppName)
		},
		TLSOptions: func(m *juju.Model, address string, external bool) tls.Options {
			pod := fmt.Sprintf("%s-%d", m.AppName, m.UnitOrdinal())
			service := fmt.Sprintf("%s.%s.svc.cluster.local", m.AppName, m.ModelName)
			return tls.Options{
				Hostname: pod,
				SANs:     certificateSANs(address, external, pod, fmt.Sprintf("%s.%s-endpoints", pod, m.AppName), service),
			}
		},
	}
}
