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

package logrotate_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	cfake "github.com/bitpoke/mysql-router-operator/pkg/container/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/logrotate"
)

type service struct {
	command string
	enabled bool
	updates int
}

type fakeServices map[string]*service

func (f fakeServices) UpdateService(_ context.Context, name, _, command string, enabled bool) error {
	s, ok := f[name]
	if !ok {
		s = &service{}
		f[name] = s
	}
	s.command = command
	s.enabled = enabled
	s.updates++
	return nil
}

var _ = Describe("Log rotation", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.TODO()
	})

	It("should render the config for the log directory", func() {
		config, err := logrotate.Config("/var/log/mysqlrouter", "mysql", "mysql")
		Expect(err).ToNot(HaveOccurred())
		Expect(config).To(ContainSubstring("/var/log/mysqlrouter/*.log {"))
		Expect(config).To(ContainSubstring("su mysql mysql"))
		Expect(config).To(ContainSubstring("copytruncate"))
	})

	Describe("cron driver", func() {
		var fs afero.Fs

		BeforeEach(func() {
			fs = afero.NewMemMapFs()
		})

		It("should reject invalid schedules", func() {
			_, err := logrotate.NewCron(fs, "every minute", "/var/log", "root", "root")
			Expect(err).To(HaveOccurred())
		})

		It("should install and remove the cron entry", func() {
			d, err := logrotate.NewCron(fs, logrotate.Schedule,
				"/var/snap/charmed-mysql/common/var/log/mysqlrouter", "snap_daemon", "root")
			Expect(err).ToNot(HaveOccurred())

			Expect(d.Enable(ctx)).To(Succeed())
			Expect(d.Enable(ctx)).To(Succeed())

			entry, err := afero.ReadFile(fs, "/etc/cron.d/flush_mysqlrouter_logs")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(entry)).To(Equal("* * * * * root logrotate -f -s /tmp/logrotate.status " +
				"/etc/logrotate.d/flush_mysqlrouter_logs\n"))

			config, err := afero.ReadFile(fs, "/etc/logrotate.d/flush_mysqlrouter_logs")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(config)).To(ContainSubstring("/var/snap/charmed-mysql/common/var/log/mysqlrouter/*.log"))

			Expect(d.Disable(ctx)).To(Succeed())
			Expect(afero.Exists(fs, "/etc/cron.d/flush_mysqlrouter_logs")).To(BeFalse())
			Expect(afero.Exists(fs, "/etc/logrotate.d/flush_mysqlrouter_logs")).To(BeFalse())
			Expect(d.Disable(ctx)).To(Succeed())
		})
	})

	Describe("service driver", func() {
		It("should run a loop in the workload container", func() {
			ctr := cfake.NewContainer()
			services := fakeServices{}

			d, err := logrotate.NewService(ctr, services, logrotate.Schedule, "mysql", "mysql")
			Expect(err).ToNot(HaveOccurred())

			Expect(d.Enable(ctx)).To(Succeed())
			Expect(services).To(HaveKey("flush_mysqlrouter_logs"))
			s := services["flush_mysqlrouter_logs"]
			Expect(s.enabled).To(BeTrue())
			Expect(s.command).To(Equal("/bin/sh -c 'while true; do logrotate -f -s /tmp/logrotate.status " +
				"/etc/logrotate.d/flush_mysqlrouter_logs; sleep 60; done'"))
			Expect(afero.ReadFile(ctr.Fs, "/etc/logrotate.d/flush_mysqlrouter_logs")).To(ContainSubstring("/var/log/mysqlrouter/*.log"))

			Expect(d.Disable(ctx)).To(Succeed())
			Expect(s.enabled).To(BeFalse())
			Expect(afero.Exists(ctr.Fs, "/etc/logrotate.d/flush_mysqlrouter_logs")).To(BeFalse())
		})

		It("should derive the loop interval from the schedule", func() {
			services := fakeServices{}
			d, err := logrotate.NewService(cfake.NewContainer(), services, "*/5 * * * *", "mysql", "mysql")
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Enable(ctx)).To(Succeed())
			Expect(services["flush_mysqlrouter_logs"].command).To(HaveSuffix("sleep 300; done'"))
		})
	})
})
