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

// Package logrotate rotates the router logs every minute so they can be
// shipped and pruned
package logrotate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
)

var log = logf.Log.WithName("logrotate")

const (
	// Schedule is how often the logs are rotated
	Schedule = "* * * * *"

	name       = "flush_mysqlrouter_logs"
	configFile = "/etc/logrotate.d/" + name
	cronFile   = "/etc/cron.d/" + name
	statusFile = "/tmp/logrotate.status"
)

var configTemplate = template.Must(template.New("logrotate").Parse(`# Managed by mysql-router-operator
{{ .LogDir }}/*.log {
    su {{ .User }} {{ .Group }}
    rotate 10080
    maxage 7
    dateext
    dateformat -%Y%m%d_%H:%M
    copytruncate
    missingok
    notifempty
    nocompress
    nomail
}
`))

// Driver enables or disables the log rotation
type Driver interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Config returns the logrotate configuration for logs in logDir owned by user
func Config(logDir, user, group string) (string, error) {
	buf := &bytes.Buffer{}
	err := configTemplate.Execute(buf, struct {
		LogDir string
		User   string
		Group  string
	}{logDir, user, group})
	return buf.String(), err
}

func command() string {
	return fmt.Sprintf("logrotate -f -s %s %s", statusFile, configFile)
}

// Cron rotates the logs of a machine unit with the host cron daemon
type Cron struct {
	fs       afero.Fs
	schedule string
	config   string
}

var _ Driver = &Cron{}

// NewCron returns the cron driver for logs in the given host directory
func NewCron(fs afero.Fs, schedule, logDir, user, group string) (*Cron, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", schedule)
	}
	config, err := Config(logDir, user, group)
	if err != nil {
		return nil, err
	}
	return &Cron{fs: fs, schedule: schedule, config: config}, nil
}

func writeIfChanged(fs afero.Fs, name, content string) error {
	current, err := afero.ReadFile(fs, name)
	if err == nil && string(current) == content {
		return nil
	}
	if err := fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return err
	}
	log.V(1).Info("writing file", "path", name)
	return afero.WriteFile(fs, name, []byte(content), 0644)
}

// Enable implements Driver
func (c *Cron) Enable(context.Context) error {
	if err := writeIfChanged(c.fs, configFile, c.config); err != nil {
		return errors.Wrap(err, "failed to write logrotate config")
	}
	entry := fmt.Sprintf("%s root %s\n", c.schedule, command())
	return errors.Wrap(writeIfChanged(c.fs, cronFile, entry), "failed to write cron entry")
}

// Disable implements Driver
func (c *Cron) Disable(context.Context) error {
	for _, f := range []string{cronFile, configFile} {
		if err := c.fs.Remove(f); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", f)
		}
	}
	return nil
}

// ServiceManager runs services in the workload container
type ServiceManager interface {
	UpdateService(ctx context.Context, name, summary, command string, enabled bool) error
}

// Service rotates the logs of a Kubernetes unit with a service looping in
// the workload container, there is no cron daemon there
type Service struct {
	container container.Container
	services  ServiceManager
	interval  time.Duration
	config    string
}

var _ Driver = &Service{}

// NewService returns the service driver. The loop interval is the time
// between two runs of the schedule.
func NewService(c container.Container, services ServiceManager, schedule, user, group string) (*Service, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", schedule)
	}
	first := sched.Next(time.Unix(0, 0).UTC())
	interval := sched.Next(first).Sub(first)

	config, err := Config(c.Path(container.RouterLogDir), user, group)
	if err != nil {
		return nil, err
	}
	return &Service{container: c, services: services, interval: interval, config: config}, nil
}

func (s *Service) command() string {
	return fmt.Sprintf("/bin/sh -c 'while true; do %s; sleep %d; done'", command(), int(s.interval.Seconds()))
}

// Enable implements Driver
func (s *Service) Enable(ctx context.Context) error {
	current, err := s.container.ReadFile(configFile)
	if err != nil || string(current) != s.config {
		if err := s.container.WriteFile(configFile, []byte(s.config), 0644); err != nil {
			return errors.Wrap(err, "failed to write logrotate config")
		}
	}
	return s.services.UpdateService(ctx, name, "Rotate MySQL Router logs", s.command(), true)
}

// Disable implements Driver
func (s *Service) Disable(ctx context.Context) error {
	if err := s.services.UpdateService(ctx, name, "Rotate MySQL Router logs", s.command(), false); err != nil {
		return err
	}
	if err := s.container.Remove(configFile); err != nil && !container.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove logrotate config")
	}
	return nil
}
