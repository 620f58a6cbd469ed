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

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/options"
	"github.com/bitpoke/mysql-router-operator/pkg/profile"
	"github.com/bitpoke/mysql-router-operator/pkg/reconciler"
	customLog "github.com/bitpoke/mysql-router-operator/pkg/util/log"
	"github.com/bitpoke/mysql-router-operator/pkg/version"
)

var log = logf.Log.WithName("mysql-router-operator")

func main() {
	ctx := signals.SetupSignalHandler()
	opt := options.GetOptions()

	cmd := &cobra.Command{
		Use:   "mysql-router-operator",
		Short: "MySQL Router charm.",
		Long: `mysql-router-operator: handles the current Juju event of a MySQL Router unit.
The event is read from the JUJU_* environment set by the controller.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opt.Validate(); err != nil {
				return err
			}
			logf.SetLogger(customLog.ZapLogger(opt.Debug, opt.Verbosity))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ctx, opt)
		},
	}
	opt.AddFlags(cmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build information.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetInfo().String())
		},
	}
	cmd.AddCommand(versionCmd)

	if err := cmd.Execute(); err != nil {
		log.Error(err, "failed to handle event")
		os.Exit(1)
	}
}

func run(ctx context.Context, opt *options.Options) error {
	env, err := juju.GetHookEnv(ctx)
	if err != nil {
		return err
	}

	m, err := juju.NewModel(juju.NewHookTools(ctx, nil), env)
	if err != nil {
		return err
	}

	supported, err := reconciler.CheckArchitecture(m, runtime.GOARCH)
	if err != nil || !supported {
		return err
	}

	prof, err := profile.Get(opt.Profile)
	if err != nil {
		return err
	}

	c, err := prof.NewContainer()
	if err != nil {
		return err
	}
	rotate, err := prof.NewLogRotate(c)
	if err != nil {
		return err
	}
	platform, err := prof.NewPlatform(m)
	if err != nil {
		return err
	}

	r := reconciler.New(m, reconciler.Options{
		Profile:   prof,
		Container: c,
		Platform:  platform,
		LogRotate: rotate,
		Versions:  opt.Versions(),
	})
	return r.Run(ctx)
}
