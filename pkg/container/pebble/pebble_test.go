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

package pebble

import (
	"context"
	"errors"
	"io"

	"github.com/canonical/pebble/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/yaml"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/container/fake"
)

type fakeClient struct {
	files    map[string][]byte
	layers   map[string][]byte
	services map[string]client.ServiceStatus
	restarts int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		files:    map[string][]byte{},
		layers:   map[string][]byte{},
		services: map[string]client.ServiceStatus{},
	}
}

func (f *fakeClient) SysInfo() (*client.SysInfo, error) { return &client.SysInfo{Version: "1.17.0"}, nil }

func (f *fakeClient) Push(opts *client.PushOptions) error {
	data, err := io.ReadAll(opts.Source)
	f.files[opts.Path] = data
	return err
}

func (f *fakeClient) Pull(opts *client.PullOptions) error {
	data, ok := f.files[opts.Path]
	if !ok {
		return errors.New("cannot pull: no such file or directory")
	}
	_, err := opts.Target.Write(data)
	return err
}

func (f *fakeClient) ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error) {
	if _, ok := f.files[opts.Path]; !ok {
		return nil, errors.New("stat: no such file or directory")
	}
	return []*client.FileInfo{}, nil
}

func (f *fakeClient) RemovePath(opts *client.RemovePathOptions) error {
	if _, ok := f.files[opts.Path]; !ok {
		return errors.New("remove: no such file or directory")
	}
	delete(f.files, opts.Path)
	return nil
}

func (f *fakeClient) MakeDir(*client.MakeDirOptions) error { return nil }

func (f *fakeClient) Exec(*client.ExecOptions) (*client.ExecProcess, error) {
	return nil, errors.New("exec not supported")
}

func (f *fakeClient) AddLayer(opts *client.AddLayerOptions) error {
	f.layers[opts.Label] = opts.LayerData
	return nil
}

func (f *fakeClient) Services(opts *client.ServicesOptions) ([]*client.ServiceInfo, error) {
	out := []*client.ServiceInfo{}
	for _, name := range opts.Names {
		if status, ok := f.services[name]; ok {
			out = append(out, &client.ServiceInfo{Name: name, Current: status})
		}
	}
	return out, nil
}

func (f *fakeClient) Start(opts *client.ServiceOptions) (string, error) {
	for _, n := range opts.Names {
		f.services[n] = client.StatusActive
	}
	return "1", nil
}

func (f *fakeClient) Stop(opts *client.ServiceOptions) (string, error) {
	for _, n := range opts.Names {
		f.services[n] = client.StatusInactive
	}
	return "2", nil
}

func (f *fakeClient) Restart(opts *client.ServiceOptions) (string, error) {
	f.restarts++
	return f.Start(opts)
}

func (f *fakeClient) WaitChange(string, *client.WaitChangeOptions) (*client.Change, error) {
	return &client.Change{Ready: true}, nil
}

var _ = Describe("Pebble container", func() {
	var (
		c      *fakeClient
		runner *fake.CommandRunner
		p      *Pebble
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.TODO()
		c = newFakeClient()
		runner = fake.NewCommandRunner(false)
		p = New(c, runner.Run)
	})

	It("should keep logical paths", func() {
		Expect(p.Path("/run/mysqlrouter/mysql.sock")).To(Equal("/run/mysqlrouter/mysql.sock"))
	})

	It("should read and write files", func() {
		Expect(p.WriteFile(container.TLSConfigFile, []byte("[DEFAULT]"), 0600)).To(Succeed())
		Expect(p.Exists(container.TLSConfigFile)).To(BeTrue())
		Expect(p.ReadFile(container.TLSConfigFile)).To(Equal([]byte("[DEFAULT]")))

		Expect(p.Remove(container.TLSConfigFile)).To(Succeed())
		Expect(container.IsNotExist(p.Remove(container.TLSConfigFile))).To(BeTrue())
		_, err := p.ReadFile(container.TLSConfigFile)
		Expect(container.IsNotExist(err)).To(BeTrue())
		Expect(p.Exists(container.TLSConfigFile)).To(BeFalse())
	})

	It("should start the router with the tls config", func() {
		Expect(p.UpdateRouterService(ctx, true, container.Bool(true))).To(Succeed())
		Expect(p.RouterServiceEnabled(ctx)).To(BeTrue())

		l := layer{}
		Expect(yaml.Unmarshal(c.layers[routerService], &l)).To(Succeed())
		Expect(l.Services[routerService].Command).To(Equal(
			"mysqlrouter --config /etc/mysqlrouter/mysqlrouter.conf --extra-config /etc/mysqlrouter/tls.conf"))
		Expect(l.Services[routerService].Startup).To(Equal("enabled"))
	})

	It("should stop the router", func() {
		Expect(p.UpdateRouterService(ctx, true, container.Bool(false))).To(Succeed())
		Expect(p.UpdateRouterService(ctx, false, nil)).To(Succeed())
		Expect(p.RouterServiceEnabled(ctx)).To(BeFalse())
		Expect(c.restarts).To(Equal(1))
	})

	It("should require tls when enabling", func() {
		Expect(p.UpdateRouterService(ctx, true, nil)).To(MatchError(container.ErrTLSUnset))
	})

	It("should configure the exporter through the environment", func() {
		Expect(p.UpdateExporterService(ctx, true, &container.ExporterConfig{
			URL: "https://127.0.0.1:8443", Username: "monitoring", Password: "pw",
		})).To(Succeed())

		l := layer{}
		Expect(yaml.Unmarshal(c.layers[exporterService], &l)).To(Succeed())
		Expect(l.Services[exporterService].Environment).To(HaveKeyWithValue("MYSQLROUTER_EXPORTER_USER", "monitoring"))
		Expect(p.ExporterServiceEnabled(ctx)).To(BeTrue())
	})

	It("should manage auxiliary services", func() {
		Expect(p.UpdateService(ctx, "logrotate", "Rotate logs", "/bin/sh -c 'sleep 60'", true)).To(Succeed())
		Expect(c.services).To(HaveKeyWithValue("logrotate", client.StatusActive))
		Expect(c.restarts).To(Equal(1))

		Expect(p.UpdateService(ctx, "logrotate", "Rotate logs", "/bin/sh -c 'sleep 60'", true)).To(Succeed())
		Expect(c.restarts).To(Equal(1))

		Expect(p.UpdateService(ctx, "logrotate", "Rotate logs", "/bin/sh -c 'sleep 60'", false)).To(Succeed())
		Expect(c.services).To(HaveKeyWithValue("logrotate", client.StatusInactive))
	})

	It("should run the router binary", func() {
		runner.AddExpectedCalls(func(_ context.Context, cmd container.Command) (string, error) {
			defer GinkgoRecover()
			Expect(cmd.Argv()).To(Equal([]string{"mysqlrouter", "--version"}))
			return "MySQL Router  Ver 8.0.36 for Linux", nil
		})
		out, err := p.RunMySQLRouter(ctx, []string{"--version"}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("8.0.36"))
		runner.AssertNoCallsLeft()
	})
})
