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

// Package pki holds the key, CSR and certificate helpers used by the TLS relation
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	pemBlockRSAPrivateKey = "RSA PRIVATE KEY"
	pemBlockPrivateKey    = "PRIVATE KEY"
	pemBlockCSR           = "CERTIFICATE REQUEST"
	pemBlockCertificate   = "CERTIFICATE"
	privateKeySize        = 2048
)

// GeneratePrivateKey returns a new PEM encoded RSA private key
func GeneratePrivateKey() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, privateKeySize)
	if err != nil {
		return "", fmt.Errorf("error generating RSA private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  pemBlockRSAPrivateKey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})), nil
}

// NormalizePrivateKey accepts a PEM or a base64 encoded PEM private key and
// returns it PEM encoded
func NormalizePrivateKey(in string) (string, error) {
	in = strings.TrimSpace(in)
	if !strings.HasPrefix(in, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(in)
		if err != nil {
			return "", errors.New("private key is neither PEM nor base64 encoded PEM")
		}
		in = strings.TrimSpace(string(decoded))
	}

	if _, err := ParsePrivateKey(in); err != nil {
		return "", err
	}
	return in + "\n", nil
}

// ParsePrivateKey parses a PEM encoded RSA private key
func ParsePrivateKey(keyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.New("error decoding PEM")
	}

	switch block.Type {
	case pemBlockRSAPrivateKey:
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemBlockPrivateKey:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not an RSA key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type: %v", block.Type)
	}
}

// CSROpts are the subject and alternative names of a CSR
type CSROpts struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []net.IP
}

// CSROpt configures a CSR
type CSROpt func(*CSROpts)

// WithCommonName sets the subject common name
func WithCommonName(name string) CSROpt {
	return func(o *CSROpts) {
		o.CommonName = name
	}
}

// WithOrganization sets the subject organization
func WithOrganization(org string) CSROpt {
	return func(o *CSROpts) {
		o.Organization = org
	}
}

// WithSANs adds IP addresses and DNS names as subject alternative names
func WithSANs(sans ...string) CSROpt {
	return func(o *CSROpts) {
		for _, san := range sans {
			if ip := net.ParseIP(san); ip != nil {
				o.IPAddresses = append(o.IPAddresses, ip)
			} else if san != "" {
				o.DNSNames = append(o.DNSNames, san)
			}
		}
	}
}

// CreateCSR returns a PEM encoded CSR signed with the given key
func CreateCSR(keyPEM string, csrOpts ...CSROpt) (string, error) {
	key, err := ParsePrivateKey(keyPEM)
	if err != nil {
		return "", err
	}

	opts := CSROpts{}
	for _, setOpt := range csrOpts {
		setOpt(&opts)
	}

	subject := pkix.Name{CommonName: opts.CommonName}
	if opts.Organization != "" {
		subject.Organization = []string{opts.Organization}
	}
	tpl := &x509.CertificateRequest{
		Subject:     subject,
		DNSNames:    opts.DNSNames,
		IPAddresses: opts.IPAddresses,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tpl, key)
	if err != nil {
		return "", fmt.Errorf("error creating CSR: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemBlockCSR, Bytes: der})), nil
}

// ParseCSR parses a PEM encoded CSR
func ParseCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != pemBlockCSR {
		return nil, errors.New("error decoding CSR PEM")
	}
	return x509.ParseCertificateRequest(block.Bytes)
}

// ParseCert parses the first certificate of a PEM bundle
func ParseCert(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != pemBlockCertificate {
		return nil, errors.New("error decoding certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// ExpiresWithin returns true when the certificate is not valid anymore after d
func ExpiresWithin(certPEM string, d time.Duration, now time.Time) (bool, error) {
	cert, err := ParseCert(certPEM)
	if err != nil {
		return false, err
	}
	return now.Add(d).After(cert.NotAfter), nil
}

// SamePEM compares two PEM strings ignoring surrounding whitespace
func SamePEM(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
