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

// Package log builds the process logger. Juju collects the standard error of
// the charm into the unit debug log.
package log

import (
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger returns a logger configured by the --debug and --verbosity flags
func ZapLogger(debug bool, verbosity int) logr.Logger {
	cfg := zap.NewProductionConfig()
	maxLevel := 2
	if debug {
		cfg = zap.NewDevelopmentConfig()
		maxLevel = 100
	}
	cfg.OutputPaths = []string{"stderr"}

	zapLog, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		log.Fatalf("logger building error: %v ", err) // who watches the watchmen?
	}

	if verbosity > maxLevel {
		verbosity = maxLevel
	}
	// logr V levels map to negative zap levels
	cfg.Level.SetLevel(zapcore.Level(-1 * verbosity))

	return zapr.NewLogger(zapLog)
}
