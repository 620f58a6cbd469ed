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

// Package tls requests the router certificate on the certificates relation
// and keeps the TLS state in the unit secret
package tls

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
	"github.com/bitpoke/mysql-router-operator/pkg/pki"
)

var log = logf.Log.WithName("tls")

const (
	// Endpoint is the name of the certificates relation endpoint
	Endpoint = "certificates"

	secretScope = "tls"

	keyPrivateKey   = "tls-private-key"
	keyRequestedCSR = "tls-requested-csr"
	keyActiveCSR    = "tls-active-csr"
	keyCertificate  = "tls-certificate"
	keyCA           = "tls-ca"
	keyChain        = "tls-chain"

	// RenewBefore is how long before expiry a certificate is renewed
	RenewBefore = 168 * time.Hour
)

var stateKeys = []string{keyPrivateKey, keyRequestedCSR, keyActiveCSR, keyCertificate, keyCA, keyChain}

// KeyPair is the certificate served by the router
type KeyPair struct {
	Key         string
	Certificate string
	CA          string
	Chain       string
}

type csrRequest struct {
	CSR string `json:"certificate_signing_request"`
	CA  bool   `json:"ca"`
}

type providerCertificate struct {
	CSR         string   `json:"certificate_signing_request"`
	Certificate string   `json:"certificate"`
	CA          string   `json:"ca"`
	Chain       []string `json:"chain"`
	Revoked     bool     `json:"revoked,omitempty"`
}

// Options describe the certificate subject
type Options struct {
	Hostname string
	// SANs are the IP addresses and names the certificate is valid for
	SANs []string
}

// Relation is the certificates relation of this unit
type Relation struct {
	model   *juju.Model
	rel     *juju.Relation
	secrets *juju.SecretStore
	opts    Options

	// Now is used to check certificate expiry
	Now func() time.Time
}

// New loads the certificates relation
func New(m *juju.Model, opts Options) (*Relation, error) {
	rel, err := m.Relation(Endpoint)
	if err != nil {
		return nil, err
	}
	return &Relation{
		model:   m,
		rel:     rel,
		secrets: m.UnitSecrets(secretScope),
		opts:    opts,
		Now:     time.Now,
	}, nil
}

// Active returns true when the relation exists and is not breaking
func (r *Relation) Active() bool {
	return r.rel != nil && !r.rel.IsBreaking()
}

// KeyPair returns the saved certificate or nil when TLS is off
func (r *Relation) KeyPair() (*KeyPair, error) {
	if !r.Active() {
		return nil, nil
	}

	values := map[string]string{}
	for _, k := range stateKeys {
		v, err := r.secrets.Get(k)
		if err != nil {
			return nil, err
		}
		values[k] = v
	}
	if values[keyCertificate] == "" || values[keyCA] == "" || values[keyPrivateKey] == "" {
		return nil, nil
	}
	return &KeyPair{
		Key:         values[keyPrivateKey],
		Certificate: values[keyCertificate],
		CA:          values[keyCA],
		Chain:       values[keyChain],
	}, nil
}

// Reconcile requests, saves and renews the certificate. It returns true
// when the saved certificate changed.
func (r *Relation) Reconcile() (bool, error) {
	if r.rel == nil {
		return false, nil
	}
	if r.rel.IsBreaking() {
		return r.clear()
	}

	key, err := r.secrets.Get(keyPrivateKey)
	if err != nil {
		return false, err
	}
	if key == "" {
		if key, err = pki.GeneratePrivateKey(); err != nil {
			return false, err
		}
		if err = r.secrets.Set(map[string]string{keyPrivateKey: key}); err != nil {
			return false, err
		}
	}

	requested, err := r.secrets.Get(keyRequestedCSR)
	if err != nil {
		return false, err
	}
	if requested == "" {
		return false, r.request(key)
	}

	changed, err := r.saveCertificate(requested)
	if err != nil {
		return false, err
	}

	return changed, r.renewIfExpiring(key, requested)
}

// request creates a CSR with the given key and publishes it in place of
// any previous request
func (r *Relation) request(key string) error {
	csr, err := pki.CreateCSR(key,
		pki.WithCommonName(r.opts.Hostname),
		pki.WithOrganization(r.model.AppName),
		pki.WithSANs(r.opts.SANs...),
	)
	if err != nil {
		return err
	}

	data, err := json.Marshal([]csrRequest{{CSR: strings.TrimSpace(csr), CA: false}})
	if err != nil {
		return err
	}

	bag, err := r.rel.LocalUnit()
	if err != nil {
		return err
	}

	log.Info("requesting certificate", "hostname", r.opts.Hostname)
	if err = bag.Set(map[string]string{"certificate_signing_requests": string(data)}); err != nil {
		return err
	}
	return r.secrets.Set(map[string]string{keyRequestedCSR: csr})
}

func (r *Relation) providerCertificates() ([]providerCertificate, error) {
	bag, err := r.rel.RemoteApp()
	if err != nil {
		return nil, err
	}

	certs := []providerCertificate{}
	raw := bag.Get("certificates")
	if raw == "" {
		return certs, nil
	}
	if err = json.Unmarshal([]byte(raw), &certs); err != nil {
		return nil, errors.Wrap(err, "failed to decode provider certificates")
	}
	return certs, nil
}

func (r *Relation) saveCertificate(requested string) (bool, error) {
	certs, err := r.providerCertificates()
	if err != nil {
		return false, err
	}

	var found *providerCertificate
	for i := range certs {
		if !certs[i].Revoked && pki.SamePEM(certs[i].CSR, requested) {
			found = &certs[i]
			break
		}
	}
	if found == nil {
		return false, nil
	}

	active, err := r.secrets.Get(keyActiveCSR)
	if err != nil {
		return false, err
	}
	saved, err := r.secrets.Get(keyCertificate)
	if err != nil {
		return false, err
	}
	// the provider may issue the same certificate again
	if pki.SamePEM(active, requested) && saved != "" {
		return false, nil
	}

	log.Info("saving certificate")
	err = r.secrets.Set(map[string]string{
		keyCertificate: found.Certificate,
		keyCA:          found.CA,
		keyChain:       strings.Join(found.Chain, "\n"),
		keyActiveCSR:   requested,
	})
	return err == nil, err
}

func (r *Relation) renewIfExpiring(key, requested string) error {
	active, err := r.secrets.Get(keyActiveCSR)
	if err != nil {
		return err
	}
	cert, err := r.secrets.Get(keyCertificate)
	if err != nil {
		return err
	}
	if cert == "" || !pki.SamePEM(active, requested) {
		return nil
	}

	expiring, err := pki.ExpiresWithin(cert, RenewBefore, r.Now())
	if err != nil {
		return err
	}
	if !expiring {
		return nil
	}

	log.Info("certificate is expiring, requesting renewal")
	return r.request(key)
}

// SetPrivateKey replaces the private key, a new key is generated when key
// is empty. A new certificate is requested when the relation is active.
func (r *Relation) SetPrivateKey(key string) error {
	var err error
	if key == "" {
		key, err = pki.GeneratePrivateKey()
	} else {
		key, err = pki.NormalizePrivateKey(key)
	}
	if err != nil {
		return err
	}

	if err = r.secrets.Set(map[string]string{keyPrivateKey: key}); err != nil {
		return err
	}
	if !r.Active() {
		return nil
	}
	return r.request(key)
}

func (r *Relation) clear() (bool, error) {
	cert, err := r.secrets.Get(keyCertificate)
	if err != nil {
		return false, err
	}
	if err = r.secrets.Delete(stateKeys...); err != nil {
		return false, err
	}
	return cert != "", nil
}
