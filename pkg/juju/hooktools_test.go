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

package juju_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

type toolCall struct {
	name  string
	args  []string
	stdin string
}

var _ = Describe("Hook tools backend", func() {
	var (
		calls   []toolCall
		outputs map[string]string
		tools   *juju.HookTools
	)

	BeforeEach(func() {
		calls = nil
		outputs = map[string]string{}
		tools = juju.NewHookTools(context.TODO(), func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
			calls = append(calls, toolCall{name: name, args: args, stdin: string(stdin)})
			if name == "secret-get" {
				return nil, &juju.ToolError{Tool: name, Stderr: "ERROR secret \"x\" not found", Err: errors.New("exit status 1")}
			}
			return []byte(outputs[name]), nil
		})
	})

	It("should parse relation ids", func() {
		outputs["relation-ids"] = `["database:4","database:2"]`
		ids, err := tools.RelationIDs("database")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]int{2, 4}))
		Expect(calls[0].args).To(Equal([]string{"database", "--format=json"}))
	})

	It("should write databags through stdin", func() {
		Expect(tools.RelationSet(4, true, map[string]string{"password": "secret"})).To(Succeed())
		Expect(calls[0].name).To(Equal("relation-set"))
		Expect(calls[0].args).To(Equal([]string{"-r", "4", "--app", "--file", "-"}))
		Expect(calls[0].stdin).To(Equal(`{"password":"secret"}`))
	})

	It("should map missing secrets", func() {
		_, err := tools.SecretGet("mysql-router.unit")
		Expect(err).To(MatchError(juju.ErrSecretNotFound))
	})

	It("should set application status", func() {
		Expect(tools.StatusSet(true, juju.Status{Kind: juju.StatusBlocked, Message: "Missing relation: database"})).To(Succeed())
		Expect(calls[0].args).To(Equal([]string{"--application", "blocked", "Missing relation: database"}))
	})

	It("should list tcp ports", func() {
		outputs["opened-ports"] = `["6447/tcp","6446/tcp","1000-2000/tcp"]`
		ports, err := tools.OpenedPorts()
		Expect(err).NotTo(HaveOccurred())
		Expect(ports).To(Equal([]int{6446, 6447}))
	})

	It("should delete state keys with empty values", func() {
		Expect(tools.StateSet(map[string]string{"a": "", "b": "c"})).To(Succeed())
		names := []string{}
		for _, c := range calls {
			names = append(names, c.name+" "+strings.Join(c.args, " "))
		}
		Expect(names).To(ConsistOf("state-delete a", "state-set b=c"))
	})
})
