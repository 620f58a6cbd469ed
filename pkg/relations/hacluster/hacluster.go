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

// Package hacluster implements the ha relation which asks the hacluster
// charm to manage a virtual IP in front of the router units
package hacluster

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/crypto/sha3"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

var log = logf.Log.WithName("hacluster")

// Endpoint is the relation endpoint name
const Endpoint = "ha"

const (
	resourcesKey      = "json_resources"
	resourceParamsKey = "json_resource_params"

	ipv4Agent = "ocf:heartbeat:IPaddr2"
	ipv6Agent = "ocf:heartbeat:IPv6addr"

	resourceMeta = ` meta migration-threshold="INFINITY" failure-timeout="5s" op monitor timeout="20s" interval="10s" depth="0"`
)

// Relation is the ha relation
type Relation struct {
	rel     *juju.Relation
	appName string
	vip     string
}

// New loads the ha relation of the model
func New(m *juju.Model) (*Relation, error) {
	rel, err := m.Relation(Endpoint)
	if err != nil {
		return nil, err
	}
	cfg, err := m.Config()
	if err != nil {
		return nil, err
	}
	return &Relation{rel: rel, appName: m.AppName, vip: cfg.VIP}, nil
}

// Exists returns true if the relation is established and not breaking
func (r *Relation) Exists() bool {
	return r.rel != nil && !r.rel.IsBreaking()
}

// VIP returns the configured virtual IP, empty when unset
func (r *Relation) VIP() string {
	return r.vip
}

// ResourceName returns the cluster resource name of a virtual IP
func ResourceName(app, vip string) string {
	h := make([]byte, 4)
	sha3.ShakeSum128(h, []byte(vip))
	return fmt.Sprintf("res_%s_%s_vip", app, hex.EncodeToString(h)[:7])
}

// Clustered returns true when the hacluster units report the cluster as
// formed
func (r *Relation) Clustered() (bool, error) {
	if !r.Exists() {
		return false, nil
	}
	for _, unit := range r.rel.Units {
		bag, err := r.rel.RemoteUnit(unit)
		if err != nil {
			return false, err
		}
		switch bag.Get("clustered") {
		case "yes", "true":
			return true, nil
		}
	}
	return false, nil
}

// Reconcile publishes the virtual IP resource once the cluster is formed
func (r *Relation) Reconcile() error {
	clustered, err := r.Clustered()
	if err != nil || !clustered {
		return err
	}

	resources, params := "{}", "{}"
	if r.vip != "" {
		key := ResourceName(r.appName, r.vip)

		agent, param := ipv4Agent, "ip"
		if ip := net.ParseIP(r.vip); ip != nil && ip.To4() == nil {
			agent, param = ipv6Agent, "ipv6addr"
		}

		data, err := json.Marshal(map[string]string{key: agent})
		if err != nil {
			return err
		}
		resources = string(data)

		data, err = json.Marshal(map[string]string{key: fmt.Sprintf(` params %s="%s"`, param, r.vip) + resourceMeta})
		if err != nil {
			return err
		}
		params = string(data)
	}

	bag, err := r.rel.LocalUnit()
	if err != nil {
		return err
	}
	if bag.Get(resourcesKey) != resources {
		log.Info("updating virtual IP resources", "vip", r.vip)
	}
	return bag.Set(map[string]string{
		resourcesKey:      resources,
		resourceParamsKey: params,
	})
}

// Status returns the blocked status caused by an incomplete HA setup or nil
func (r *Relation) Status(externallyAccessible bool) *juju.Status {
	if r.Exists() {
		if !externallyAccessible {
			return juju.BlockedStatus("ha integration used without data-integrator")
		}
		if r.vip == "" {
			return juju.BlockedStatus("ha integration used without vip configuration")
		}
		return nil
	}
	if r.vip != "" && !externallyAccessible {
		return juju.BlockedStatus("vip configuration without data-integrator")
	}
	return nil
}
