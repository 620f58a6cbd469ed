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

package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/onsi/gomega"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
)

// CommandRunner implements a fake command runner that can be used for mocking in tests
type CommandRunner struct {
	expectedCalls   []container.CommandRunner
	calls           []container.Command
	lock            sync.Mutex
	allowExtraCalls bool
}

// AddExpectedCalls appends a "run" function, that will be called and discarded the next time the
// command runner will be used
func (cr *CommandRunner) AddExpectedCalls(expectedCalls ...container.CommandRunner) {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	cr.expectedCalls = append(cr.expectedCalls, expectedCalls...)
}

// Run implements container.CommandRunner
func (cr *CommandRunner) Run(ctx context.Context, cmd container.Command) (string, error) {
	cr.lock.Lock()
	cr.calls = append(cr.calls, cmd)

	if len(cr.expectedCalls) == 0 && cr.allowExtraCalls {
		cr.lock.Unlock()
		return "", nil
	}

	unexpectedMessage := fmt.Sprintf(
		"No expected command runner calls left, but got the following call: %s",
		strings.Join(cmd.Argv(), " "),
	)
	gomega.Expect(cr.expectedCalls).ToNot(gomega.BeEmpty(), unexpectedMessage)
	call := cr.expectedCalls[0]
	cr.expectedCalls = cr.expectedCalls[1:]
	cr.lock.Unlock()

	// the call may use the container, do not hold the lock
	return call(ctx, cmd)
}

// Calls returns all the commands run so far
func (cr *CommandRunner) Calls() []container.Command {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	return append([]container.Command{}, cr.calls...)
}

// AssertNoCallsLeft can be used to assert that there are no expected remaining command runner calls
func (cr *CommandRunner) AssertNoCallsLeft() {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	gomega.Expect(cr.expectedCalls).To(gomega.BeEmpty())
}

// AllowExtraCalls will allow the fake command runner to be used without expecting any calls
func (cr *CommandRunner) AllowExtraCalls() {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	cr.allowExtraCalls = true
}

// NewCommandRunner returns a new fake command runner
func NewCommandRunner(allowExtraCalls bool) *CommandRunner {
	return &CommandRunner{
		allowExtraCalls: allowExtraCalls,
	}
}
