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

package mysqlsh_test

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
	"github.com/bitpoke/mysql-router-operator/pkg/container/fake"
	"github.com/bitpoke/mysql-router-operator/pkg/mysqlsh"
)

var _ = Describe("MySQL Shell driver", func() {
	var (
		ctx    context.Context
		ctr    *fake.Container
		sh     *mysqlsh.Shell
		script string
	)

	// respond returns a mysqlsh call that records the script and writes the
	// given content to the file with the given suffix
	respond := func(suffix, content string) container.CommandRunner {
		return func(_ context.Context, cmd container.Command) (string, error) {
			Expect(cmd.Name).To(Equal("mysqlsh"))
			Expect(cmd.Args[:3]).To(Equal([]string{"--no-wizard", "--python", "--file"}))

			path := cmd.Args[3]
			data, err := ctr.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			script = string(data)

			if content != "" {
				out := strings.TrimSuffix(path, ".py") + suffix
				Expect(ctr.WriteFile(out, []byte(content), 0600)).To(Succeed())
			}
			return "", nil
		}
	}

	expectNoScriptsLeft := func() {
		files, err := ctr.Fs.Open(container.TmpDir)
		Expect(err).ToNot(HaveOccurred())
		names, err := files.Readdirnames(-1)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(BeEmpty())
	}

	BeforeEach(func() {
		ctx = context.Background()
		ctr = fake.NewContainer()
		Expect(ctr.MkdirAll(container.TmpDir)).To(Succeed())
		sh = mysqlsh.New(ctr, mysqlsh.Connection{
			Username: "relation-68",
			Password: "upstream-secret",
			Host:     "10.0.0.1",
			Port:     3306,
		})
		script = ""
	})

	AfterEach(func() {
		ctr.Runner.AssertNoCallsLeft()
	})

	It("should create the database and user", func() {
		ctr.Runner.AddExpectedCalls(respond("", ""))

		password, err := sh.CreateApplicationDatabaseAndUser(ctx, "relation-68-42", "foo")
		Expect(err).ToNot(HaveOccurred())
		Expect(password).To(MatchRegexp("^[A-Za-z0-9]{24}$"))

		Expect(script).To(ContainSubstring(`shell.connect_to_primary(`))
		Expect(script).To(ContainSubstring(`"password":"upstream-secret"`))
		Expect(script).To(ContainSubstring("CREATE DATABASE IF NOT EXISTS `foo`"))
		Expect(script).To(ContainSubstring(`CREATE USER ? IDENTIFIED BY ? ATTRIBUTE ?`))
		Expect(script).To(ContainSubstring(`{\"created_by_user\":\"relation-68\"}`))
		Expect(script).To(ContainSubstring("session.run_sql(\"GRANT ALL PRIVILEGES ON `foo`.* TO ?\""))
		expectNoScriptsLeft()
	})

	It("should not serialize the results of write queries", func() {
		ctr.Runner.AddExpectedCalls(respond("", ""))

		Expect(sh.DeleteUser(ctx, "relation-68-42", true)).To(Succeed())
		Expect(script).To(ContainSubstring(`session.run_sql("DROP USER`))
		Expect(script).ToNot(ContainSubstring("result = session.run_sql"))
		Expect(script).ToNot(ContainSubstring("json.dump(result"))
		Expect(script).ToNot(ContainSubstring("-output.json"))
		expectNoScriptsLeft()
	})

	It("should serialize the result of read queries", func() {
		ctr.Runner.AddExpectedCalls(respond("-output.json", "true"))

		_, err := sh.IsRouterInClusterSet(ctx, "1")
		Expect(err).ToNot(HaveOccurred())
		Expect(script).To(ContainSubstring("json.dump(result, f)"))
		expectNoScriptsLeft()
	})

	It("should refuse unsafe database names", func() {
		_, err := sh.CreateApplicationDatabaseAndUser(ctx, "relation-68-42", "foo`bar")
		Expect(err).To(HaveOccurred())
		Expect(ctr.Runner.Calls()).To(BeEmpty())
	})

	It("should map connection failures to ErrConnection", func() {
		ctr.Runner.AddExpectedCalls(respond("-error.json",
			`{"message": "Can't connect to MySQL server", "code": 2003, "traceback_message": "..."}`))

		err := sh.DeleteUser(ctx, "relation-68-42", false)
		Expect(err).To(MatchError(mysqlsh.ErrConnection))
		Expect(mysqlsh.IsConnectionError(err)).To(BeTrue())
		expectNoScriptsLeft()
	})

	It("should surface other shell errors with their code", func() {
		ctr.Runner.AddExpectedCalls(respond("-error.json",
			`{"message": "Operation DROP USER failed", "code": 1396, "traceback_message": "Traceback"}`))

		err := sh.DeleteUser(ctx, "relation-68-42", true)
		Expect(err).To(HaveOccurred())
		Expect(script).To(ContainSubstring(`DROP USER ?`))

		var shErr *mysqlsh.Error
		Expect(errors.As(err, &shErr)).To(BeTrue())
		Expect(shErr.Traceback).To(Equal("Traceback"))

		var myErr *mysql.MySQLError
		Expect(errors.As(err, &myErr)).To(BeTrue())
		Expect(myErr.Number).To(BeEquivalentTo(1396))
		Expect(mysqlsh.IsConnectionError(err)).To(BeFalse())
	})

	It("should redact the password from process failures", func() {
		ctr.Runner.AddExpectedCalls(func(_ context.Context, cmd container.Command) (string, error) {
			return "", &container.ProcessFailure{
				ExitCode: 1,
				Stderr:   "access denied for relation-68:upstream-secret",
				Cmd:      cmd.Argv(),
			}
		})

		err := sh.RemoveRouterFromClusterMetadata(ctx, "1")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).ToNot(ContainSubstring("upstream-secret"))
		Expect(err.Error()).To(ContainSubstring("exited with code 1"))
		expectNoScriptsLeft()
	})

	Context("router user lookup", func() {
		It("should return the router user of the unit", func() {
			ctr.Runner.AddExpectedCalls(respond("-output.json", `[["mysql_router1_x1y2", "1"]]`))

			user, err := sh.GetMySQLRouterUserForUnit(ctx, "router/0")
			Expect(err).ToNot(HaveOccurred())
			Expect(user).To(Equal(&mysqlsh.RouterUser{Username: "mysql_router1_x1y2", RouterID: "1"}))
			Expect(script).To(ContainSubstring(`INFORMATION_SCHEMA.USER_ATTRIBUTES`))
			Expect(script).To(ContainSubstring(`["relation-68","router/0"]`))
		})

		It("should return nil when there is none", func() {
			ctr.Runner.AddExpectedCalls(respond("-output.json", `[]`))

			user, err := sh.GetMySQLRouterUserForUnit(ctx, "router/0")
			Expect(err).ToNot(HaveOccurred())
			Expect(user).To(BeNil())
		})

		It("should fail when more than one user matches", func() {
			ctr.Runner.AddExpectedCalls(respond("-output.json", `[["a", "1"], ["b", "2"]]`))

			_, err := sh.GetMySQLRouterUserForUnit(ctx, "router/0")
			Expect(err).To(HaveOccurred())
		})
	})

	It("should tag the router user", func() {
		ctr.Runner.AddExpectedCalls(respond("", ""))

		Expect(sh.AddAttributesToRouterUser(ctx, "mysql_router1_x1y2", "1", "router/0")).To(Succeed())
		Expect(script).To(ContainSubstring(`ALTER USER ? ATTRIBUTE ?`))
		Expect(script).To(MatchRegexp(regexp.QuoteMeta(`\"router_id\":\"1\",\"created_by_juju_unit\":\"router/0\"`)))
	})

	It("should check the router is registered in the cluster metadata", func() {
		ctr.Runner.AddExpectedCalls(respond("-output.json", "true"))

		found, err := sh.IsRouterInClusterSet(ctx, "1")
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(script).To(ContainSubstring(`mysql_innodb_cluster_metadata.routers WHERE router_id = ?`))
	})
})
