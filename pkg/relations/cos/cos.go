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

// Package cos implements the cos-agent relation which exposes the router
// metrics exporter and log slot to the observability stack
package cos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/presslabs/controller-util/rand"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/routerapi"
	"github.com/bitpoke/mysql-router-operator/pkg/util/constants"
)

var log = logf.Log.WithName("cos")

const (
	// Endpoint is the relation endpoint name
	Endpoint = "cos-agent"

	secretScope = "cos"
	passwordKey = "monitoring-password"
	configKey   = "config"

	// routeName is present once the router finished bootstrapping
	routeName = "bootstrap_rw"
)

var (
	pollTimeout = 30 * time.Second
	pollDelay   = 5 * time.Second
)

// Options configures the relation
type Options struct {
	// LogSlots are the snap log slots shared with the agent
	LogSlots []string
}

type scrapeJob struct {
	MetricsPath   string         `json:"metrics_path"`
	StaticConfigs []staticConfig `json:"static_configs"`
}

type staticConfig struct {
	Targets []string `json:"targets"`
}

type agentConfig struct {
	MetricsAlertRules map[string]interface{} `json:"metrics_alert_rules"`
	LogAlertRules     map[string]interface{} `json:"log_alert_rules"`
	Dashboards        []string               `json:"dashboards"`
	MetricsScrapeJobs []scrapeJob            `json:"metrics_scrape_jobs"`
	LogSlots          []string               `json:"log_slots"`
}

// Relation is the cos-agent relation
type Relation struct {
	rel       *juju.Relation
	secrets   *juju.SecretStore
	container container.Container
	opts      Options

	// NewClient builds the REST API client used to check the credentials
	NewClient func(uri, username, password string) routerapi.Interface
	Clock     clock.Clock
	Timeout   time.Duration
	Delay     time.Duration
}

// New loads the cos-agent relation of the model
func New(m *juju.Model, c container.Container, opts Options) (*Relation, error) {
	rel, err := m.Relation(Endpoint)
	if err != nil {
		return nil, err
	}

	return &Relation{
		rel:       rel,
		secrets:   m.UnitSecrets(secretScope),
		container: c,
		opts:      opts,
		NewClient: routerapi.NewFromURI,
		Clock:     clock.WallClock,
		Timeout:   pollTimeout,
		Delay:     pollDelay,
	}, nil
}

// Exists returns true if the relation is established and not breaking
func (r *Relation) Exists() bool {
	return r.rel != nil && !r.rel.IsBreaking()
}

// IsBreaking returns true if the current event removes the relation
func (r *Relation) IsBreaking() bool {
	return r.rel != nil && r.rel.IsBreaking()
}

// ExporterConfig returns the exporter configuration or nil when the
// exporter should not run
func (r *Relation) ExporterConfig() (*container.ExporterConfig, error) {
	if !r.Exists() {
		return nil, nil
	}

	password, err := r.secrets.Get(passwordKey)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, nil
	}

	return &container.ExporterConfig{
		URL:      fmt.Sprintf("https://127.0.0.1:%d", constants.RouterRESTAPIPort),
		Username: constants.MonitoringUsername,
		Password: password,
	}, nil
}

// Publish writes the agent configuration in the unit databag
func (r *Relation) Publish() error {
	if !r.Exists() {
		return nil
	}

	logSlots := r.opts.LogSlots
	if logSlots == nil {
		logSlots = []string{}
	}

	data, err := json.Marshal(agentConfig{
		MetricsAlertRules: map[string]interface{}{},
		LogAlertRules:     map[string]interface{}{},
		Dashboards:        []string{},
		MetricsScrapeJobs: []scrapeJob{{
			MetricsPath: constants.ExporterPath,
			StaticConfigs: []staticConfig{{
				Targets: []string{fmt.Sprintf("localhost:%d", constants.ExporterPort)},
			}},
		}},
		LogSlots: logSlots,
	})
	if err != nil {
		return err
	}

	bag, err := r.rel.LocalUnit()
	if err != nil {
		return err
	}
	return bag.Set(map[string]string{configKey: string(data)})
}

// Setup creates the monitoring user of the router REST API and waits until
// the router accepts its credentials. It does nothing when the user exists.
func (r *Relation) Setup(ctx context.Context) error {
	password, err := r.secrets.Get(passwordKey)
	if err != nil {
		return err
	}
	if password != "" {
		return nil
	}

	log.Info("setting up monitoring user")
	password, err = rand.AlphaNumericString(constants.PasswordLength)
	if err != nil {
		return errors.Wrap(err, "failed to generate monitoring password")
	}

	if err := r.container.SetRouterRESTAPIPassword(ctx, constants.MonitoringUsername, password); err != nil {
		return err
	}
	if err := r.waitUntilAuthenticated(ctx, password); err != nil {
		return err
	}

	return r.secrets.Set(map[string]string{passwordKey: password})
}

// Teardown removes the monitoring user and forgets its password
func (r *Relation) Teardown(ctx context.Context) error {
	password, err := r.secrets.Get(passwordKey)
	if err != nil {
		return err
	}
	if password == "" {
		return nil
	}

	log.Info("removing monitoring user")
	if err := r.container.RemoveRouterRESTAPIPassword(ctx, constants.MonitoringUsername); err != nil {
		return err
	}
	return r.secrets.Delete(passwordKey)
}

func (r *Relation) waitUntilAuthenticated(ctx context.Context, password string) error {
	api := r.NewClient(routerapi.DefaultURI, constants.MonitoringUsername, password)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			routes, err := api.Routes(ctx)
			if err != nil {
				return err
			}
			if !routerapi.HasRoute(routes, routeName) {
				return fmt.Errorf("route %s not found", routeName)
			}
			return nil
		},
		Delay:       r.Delay,
		MaxDuration: r.Timeout,
		Clock:       r.Clock,
		Stop:        ctx.Done(),
		NotifyFunc: func(err error, attempt int) {
			log.V(1).Info("router REST API not ready", "attempt", attempt, "error", err.Error())
		},
	})
	if err != nil {
		return errors.Wrap(retry.LastError(err), "router REST API did not accept the monitoring user")
	}
	return nil
}
