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

// Package options holds the process configuration of the charm binary
package options

import (
	"fmt"
	"os"
	"sync"

	"github.com/imdario/mergo"
	"github.com/spf13/pflag"

	"github.com/bitpoke/mysql-router-operator/pkg/profile"
	"github.com/bitpoke/mysql-router-operator/pkg/upgrade"
	"github.com/bitpoke/mysql-router-operator/pkg/version"
)

// ProfileEnv is the environment variable set by the dispatch script of each
// charm flavour
const ProfileEnv = "CHARM_DEPLOYMENT_PROFILE"

// nolint: unparam
func getFromEnvOrDefault(key, def string) string {
	value := os.Getenv(key)
	if len(value) == 0 {
		return def
	}
	return value
}

// Options is the data structure that contains information about the charm configuration
type Options struct {
	// Profile is the deployment profile name, machine or kubernetes
	Profile string

	// CharmVersion is recorded in the upgrade peer relation and compared on
	// upgrade and rollback
	CharmVersion string
	// WorkloadVersion is the MySQL Router version shipped with this revision
	WorkloadVersion string

	// Debug sets the logger in development mode
	Debug bool
	// Verbosity is the maximum log level
	Verbosity int
}

func defaults() *Options {
	info := version.GetInfo()
	return &Options{
		Profile:         profile.Machine,
		CharmVersion:    info.CharmVersion,
		WorkloadVersion: info.WorkloadVersion,
		Verbosity:       0,
	}
}

// AddFlags registers all the charm flags
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Profile, "profile", o.Profile,
		fmt.Sprintf("The deployment profile. Can also be set as %s environment variable.", ProfileEnv))
	fs.StringVar(&o.CharmVersion, "charm-version", o.CharmVersion,
		"Override the charm version used for upgrade compatibility checks.")
	fs.StringVar(&o.WorkloadVersion, "workload-version", o.WorkloadVersion,
		"Override the MySQL Router version reported to the controller.")
	fs.BoolVar(&o.Debug, "debug", o.Debug, "Set logger in debug mode.")
	fs.IntVarP(&o.Verbosity, "verbosity", "v", o.Verbosity, "Log level for V logs.")
}

var instance *Options
var once sync.Once

// GetOptions returns a singleton that contains all options
func GetOptions() *Options {
	once.Do(func() {
		instance = &Options{}
	})

	return instance
}

// Validate fills the unset options from the environment and the defaults and
// checks the profile name
func (o *Options) Validate() error {
	if len(o.Profile) == 0 {
		o.Profile = getFromEnvOrDefault(ProfileEnv, "")
	}
	if err := mergo.Merge(o, defaults()); err != nil {
		return err
	}
	if _, err := profile.Get(o.Profile); err != nil {
		return err
	}
	return nil
}

// Versions returns the versions of the running revision
func (o *Options) Versions() upgrade.Versions {
	return upgrade.Versions{
		Charm:    o.CharmVersion,
		Workload: o.WorkloadVersion,
	}
}
