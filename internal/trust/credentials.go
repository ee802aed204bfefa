// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"os"

	"github.com/samber/oops"
	"golang.org/x/crypto/pkcs12"
)

// Credentials holds the registry's own party identity: the PKCS#12 client
// certificate issued by the trust framework plus its private key.
type Credentials struct {
	EORI        string
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// LoadCredentials reads a PKCS#12 bundle from disk and extracts the RSA key
// and certificate chain.
func LoadCredentials(eori, path, password string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code(CodeBadCredentials).
			With("path", path).
			Wrapf(err, "reading client certificate")
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, oops.Code(CodeBadCredentials).
			With("path", path).
			Wrapf(err, "decoding PKCS#12 bundle")
	}

	creds := &Credentials{EORI: eori}
	for _, block := range blocks {
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, oops.Code(CodeBadCredentials).Wrapf(err, "parsing certificate")
			}
			if creds.Certificate == nil {
				creds.Certificate = cert
			}
			creds.Chain = append(creds.Chain, cert)
		case "PRIVATE KEY":
			key, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			creds.Key = key
		}
	}

	if creds.Key == nil || creds.Certificate == nil {
		return nil, oops.Code(CodeBadCredentials).
			With("path", path).
			Errorf("bundle is missing a key or certificate")
	}
	return creds, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, oops.Code(CodeBadCredentials).Wrapf(err, "parsing private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, oops.Code(CodeBadCredentials).Errorf("private key is not RSA")
	}
	return key, nil
}

// X5C renders the certificate chain as base64 DER for a JWS x5c header,
// leaf first.
func (c *Credentials) X5C() []string {
	out := make([]string, 0, len(c.Chain))
	for _, cert := range c.Chain {
		out = append(out, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return out
}

// LoadCABundle reads the trust framework's CA bundle (PEM) into a cert pool
// for x5c chain verification.
func LoadCABundle(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code(CodeBadCredentials).
			With("path", path).
			Wrapf(err, "reading CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, oops.Code(CodeBadCredentials).
			With("path", path).
			Errorf("CA bundle contains no certificates")
	}
	return pool, nil
}
