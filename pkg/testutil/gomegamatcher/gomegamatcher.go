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

// Package gomegamatcher holds matchers shared by the test suites
package gomegamatcher

import (
	// nolint: golint,stylecheck
	. "github.com/onsi/gomega"
	// nolint: golint,stylecheck
	. "github.com/onsi/gomega/gstruct"

	gomegatypes "github.com/onsi/gomega/types"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

// HaveStatus is a helper func that matches a *juju.Status of the given kind.
// The message is either a string or a matcher.
func HaveStatus(kind juju.StatusKind, message interface{}) gomegatypes.GomegaMatcher {
	msg, ok := message.(gomegatypes.GomegaMatcher)
	if !ok {
		msg = Equal(message)
	}
	return PointTo(MatchFields(IgnoreExtras, Fields{
		"Kind":    Equal(kind),
		"Message": msg,
	}))
}

// BeBlocked matches a blocked *juju.Status with the given message
func BeBlocked(message interface{}) gomegatypes.GomegaMatcher {
	return HaveStatus(juju.StatusBlocked, message)
}

// BeWaiting matches a waiting *juju.Status with the given message
func BeWaiting(message interface{}) gomegatypes.GomegaMatcher {
	return HaveStatus(juju.StatusWaiting, message)
}
