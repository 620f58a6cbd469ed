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

package workload

import (
	"bytes"
	"context"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"

	"github.com/bitpoke/mysql-router-operator/pkg/container"
)

var tlsFiles = []string{container.TLSConfigFile, container.TLSKeyFile, container.TLSCertFile}

func (w *Workload) tlsConfig() ([]byte, error) {
	cfg := ini.Empty()
	sec := cfg.Section(ini.DefaultSection)
	sec.Key("client_ssl_cert").SetValue(w.container.Path(container.TLSCertFile))
	sec.Key("client_ssl_key").SetValue(w.container.Path(container.TLSKeyFile))

	buf := &bytes.Buffer{}
	if _, err := cfg.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// enableTLS writes the TLS files and restarts a running router. Nothing is
// done when the certificate is already in place.
func (w *Workload) enableTLS(ctx context.Context, tls *TLS) error {
	current, err := w.container.ReadFile(container.TLSCertFile)
	if err == nil && string(current) == tls.Certificate {
		if ok, _ := w.container.Exists(container.TLSConfigFile); ok {
			return nil
		}
	} else if err != nil && !container.IsNotExist(err) {
		return err
	}

	cfg, err := w.tlsConfig()
	if err != nil {
		return err
	}

	log.Info("enabling TLS")
	if err = w.container.WriteFile(container.TLSKeyFile, []byte(tls.Key), 0600); err != nil {
		return errors.Wrap(err, "failed to write TLS key")
	}
	if err = w.container.WriteFile(container.TLSCertFile, []byte(tls.Certificate), 0600); err != nil {
		return errors.Wrap(err, "failed to write TLS certificate")
	}
	if err = w.container.WriteFile(container.TLSConfigFile, cfg, 0600); err != nil {
		return errors.Wrap(err, "failed to write TLS config")
	}

	return w.restartIfEnabled(ctx, true)
}

// disableTLS removes the TLS files and restarts a running router if any existed
func (w *Workload) disableTLS(ctx context.Context) error {
	removed := false
	for _, f := range tlsFiles {
		err := w.container.Remove(f)
		if container.IsNotExist(err) {
			continue
		} else if err != nil {
			return errors.Wrapf(err, "failed to remove %s", f)
		}
		removed = true
	}
	if !removed {
		return nil
	}

	log.Info("disabled TLS")
	return w.restartIfEnabled(ctx, false)
}

func (w *Workload) restartIfEnabled(ctx context.Context, tls bool) error {
	enabled, err := w.container.RouterServiceEnabled(ctx)
	if err != nil || !enabled {
		return err
	}
	log.Info("restarting router", "tls", tls)
	return errors.Wrap(w.container.UpdateRouterService(ctx, true, container.Bool(tls)), "failed to restart router")
}
