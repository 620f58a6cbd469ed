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

package snap

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/container/fake"
)

func expectCommand(argv string, out string) container.CommandRunner {
	return func(_ context.Context, cmd container.Command) (string, error) {
		defer GinkgoRecover()
		Expect(strings.Join(cmd.Argv(), " ")).To(Equal(argv))
		return out, nil
	}
}

const activeRouter = `Service                            Startup  Current  Notes
charmed-mysql.mysqlrouter-service  enabled  active   -
`

const inactiveRouter = `Service                            Startup   Current   Notes
charmed-mysql.mysqlrouter-service  disabled  inactive  -
`

var _ = Describe("Snap container", func() {
	var (
		fs     afero.Fs
		runner *fake.CommandRunner
		snap   *Snap
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.TODO()
		fs = afero.NewMemMapFs()
		runner = fake.NewCommandRunner(false)
		snap = New(fs, runner.Run, "121")
		snap.RetryDelay = time.Millisecond
	})

	AfterEach(func() {
		runner.AssertNoCallsLeft()
	})

	It("should translate logical paths", func() {
		Expect(snap.Path("/etc/mysqlrouter/mysqlrouter.conf")).To(Equal("/var/snap/charmed-mysql/current/etc/mysqlrouter/mysqlrouter.conf"))
		Expect(snap.Path("/var/lib/mysqlrouter")).To(Equal("/var/snap/charmed-mysql/common/var/lib/mysqlrouter"))
		Expect(snap.Path("/run/mysqlrouter/mysql.sock")).To(Equal("/var/snap/charmed-mysql/common/run/mysqlrouter/mysql.sock"))
		Expect(snap.Path("/tmp/script.py")).To(Equal("/tmp/snap-private-tmp/snap.charmed-mysql/tmp/script.py"))
		Expect(snap.Path("/etc/mysqlrouterx")).To(Equal("/etc/mysqlrouterx"))
	})

	It("should write files in the snap layout", func() {
		Expect(snap.WriteFile("/etc/mysqlrouter/tls.conf", []byte("x"), 0600)).To(Succeed())
		data, err := afero.ReadFile(fs, "/var/snap/charmed-mysql/current/etc/mysqlrouter/tls.conf")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("x"))

		Expect(snap.Remove("/etc/mysqlrouter/tls.conf")).To(Succeed())
		Expect(container.IsNotExist(snap.Remove("/etc/mysqlrouter/tls.conf"))).To(BeTrue())
	})

	It("should require tls when enabling the router", func() {
		Expect(snap.UpdateRouterService(ctx, true, nil)).To(MatchError(container.ErrTLSUnset))
	})

	It("should start the router with tls", func() {
		runner.AddExpectedCalls(
			expectCommand("snap set charmed-mysql mysqlrouter.extra-options=--extra-config /var/snap/charmed-mysql/current/etc/mysqlrouter/tls.conf", ""),
			expectCommand("snap services charmed-mysql.mysqlrouter-service", inactiveRouter),
			expectCommand("snap start --enable charmed-mysql.mysqlrouter-service", ""),
		)
		Expect(snap.UpdateRouterService(ctx, true, container.Bool(true))).To(Succeed())
	})

	It("should restart a running router", func() {
		runner.AddExpectedCalls(
			expectCommand("snap unset charmed-mysql mysqlrouter.extra-options", ""),
			expectCommand("snap services charmed-mysql.mysqlrouter-service", activeRouter),
			expectCommand("snap restart charmed-mysql.mysqlrouter-service", ""),
		)
		Expect(snap.UpdateRouterService(ctx, true, container.Bool(false))).To(Succeed())
	})

	It("should stop the router", func() {
		runner.AddExpectedCalls(
			expectCommand("snap unset charmed-mysql mysqlrouter.extra-options", ""),
			expectCommand("snap stop --disable charmed-mysql.mysqlrouter-service", ""),
		)
		Expect(snap.UpdateRouterService(ctx, false, nil)).To(Succeed())
	})

	It("should report the router service state", func() {
		runner.AddExpectedCalls(expectCommand("snap services charmed-mysql.mysqlrouter-service", activeRouter))
		Expect(snap.RouterServiceEnabled(ctx)).To(BeTrue())
	})

	It("should pass REST API passwords through stdin", func() {
		runner.AddExpectedCalls(func(_ context.Context, cmd container.Command) (string, error) {
			defer GinkgoRecover()
			Expect(cmd.Name).To(Equal("charmed-mysql.mysqlrouter-passwd"))
			Expect(cmd.Args).To(Equal([]string{"set", "/var/snap/charmed-mysql/current/etc/mysqlrouter/rest_api_credentials", "monitoring"}))
			Expect(string(cmd.Stdin)).To(Equal("s3cret"))
			return "", nil
		})
		Expect(snap.SetRouterRESTAPIPassword(ctx, "monitoring", "s3cret")).To(Succeed())
	})

	It("should retry installs", func() {
		runner.AddExpectedCalls(
			func(_ context.Context, cmd container.Command) (string, error) {
				return "", &container.ProcessFailure{ExitCode: 1, Cmd: cmd.Argv()}
			},
			func(_ context.Context, cmd container.Command) (string, error) {
				return "", errors.New("store unreachable")
			},
			expectCommand("snap install charmed-mysql --revision 121", ""),
			expectCommand("snap refresh --hold charmed-mysql", ""),
		)
		Expect(snap.Install(ctx)).To(Succeed())
	})

	It("should not reinstall the pinned revision", func() {
		runner.AddExpectedCalls(expectCommand("snap list charmed-mysql",
			"Name           Version  Rev  Tracking     Publisher   Notes\ncharmed-mysql  8.0.36   121  latest/edge  dataplatformbot  held\n"))
		Expect(snap.Install(ctx)).To(Succeed())
	})

	It("should keep other /etc/hosts entries", func() {
		Expect(afero.WriteFile(fs, "/etc/hosts", []byte("127.0.0.1 localhost\n"), 0644)).To(Succeed())

		Expect(snap.UpdateEtcHosts(map[string]string{"mysql-1": "10.0.0.2", "mysql-0": "10.0.0.1"})).To(Succeed())
		Expect(snap.UpdateEtcHosts(map[string]string{"mysql-0": "10.0.0.5"})).To(Succeed())

		data, _ := afero.ReadFile(fs, "/etc/hosts")
		Expect(string(data)).To(Equal("127.0.0.1 localhost\n# BEGIN mysql-router-operator\n10.0.0.5 mysql-0\n# END mysql-router-operator\n"))
	})
})
