// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// TokenVerifier validates iSHARE JWTs whose signing certificate travels in
// the x5c header, anchored to the trust framework's CA bundle.
type TokenVerifier struct {
	roots *x509.CertPool
	clk   clock.Clock
}

// NewTokenVerifier builds a verifier over the given CA roots.
func NewTokenVerifier(roots *x509.CertPool, clk clock.Clock) *TokenVerifier {
	return &TokenVerifier{roots: roots, clk: clk}
}

// x5cKeyFunc extracts the leaf certificate from the token's x5c header,
// verifies its chain against the CA roots and returns its public key.
func (v *TokenVerifier) x5cKeyFunc(token *jwt.Token) (any, error) {
	raw, ok := token.Header["x5c"].([]any)
	if !ok || len(raw) == 0 {
		return nil, oops.Code(CodeInvalidToken).Errorf("token carries no x5c header")
	}

	intermediates := x509.NewCertPool()
	var leaf *x509.Certificate
	for i, entry := range raw {
		der, ok := entry.(string)
		if !ok {
			return nil, oops.Code(CodeInvalidToken).Errorf("x5c entry is not a string")
		}
		data, err := base64.StdEncoding.DecodeString(der)
		if err != nil {
			return nil, oops.Code(CodeInvalidToken).Wrapf(err, "decoding x5c entry")
		}
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, oops.Code(CodeInvalidToken).Wrapf(err, "parsing x5c certificate")
		}
		if i == 0 {
			leaf = cert
		} else {
			intermediates.AddCert(cert)
		}
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.clk.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).Wrapf(err, "verifying x5c chain")
	}
	return leaf.PublicKey, nil
}

type delegationTokenClaims struct {
	jwt.RegisteredClaims
	DelegationEvidence types.DelegationEvidence `json:"delegationEvidence"`
}

// VerifyDelegationToken validates a signed delegation token and returns the
// evidence it carries.
func (v *TokenVerifier) VerifyDelegationToken(token string) (*types.DelegationEvidenceContainer, error) {
	claims := &delegationTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.x5cKeyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clk.Now),
	)
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).Wrapf(err, "parsing delegation token")
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeInvalidToken).Errorf("delegation token is not valid")
	}
	return &types.DelegationEvidenceContainer{DelegationEvidence: claims.DelegationEvidence}, nil
}

// VerifyClientAssertion validates an inbound client assertion addressed to
// this registry and returns the asserting party's EORI.
func (v *TokenVerifier) VerifyClientAssertion(token, audience string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.x5cKeyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clk.Now),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", oops.Code(CodeInvalidToken).Wrapf(err, "parsing client assertion")
	}
	if !parsed.Valid {
		return "", oops.Code(CodeInvalidToken).Errorf("client assertion is not valid")
	}
	if claims.Issuer == "" || claims.Issuer != claims.Subject {
		return "", oops.Code(CodeInvalidToken).Errorf("client assertion issuer and subject must name the asserting party")
	}
	return claims.Issuer, nil
}

type partyTokenClaims struct {
	jwt.RegisteredClaims
	PartyInfo partyInfo `json:"party_info"`
}

func (v *TokenVerifier) verifyPartyToken(token string) (*partyInfo, error) {
	claims := &partyTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.x5cKeyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clk.Now),
	)
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).Wrapf(err, "parsing party token")
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeInvalidToken).Errorf("party token is not valid")
	}
	return &claims.PartyInfo, nil
}

// VerifyDelegationEvidence reports whether the evidence is inside its
// validity window and grants everything it covers: at least one policy set,
// and every rule of every policy a bare Permit.
func VerifyDelegationEvidence(ev *types.DelegationEvidence, now time.Time) bool {
	unix := now.Unix()
	if unix < ev.NotBefore || unix >= ev.NotOnOrAfter {
		return false
	}
	if len(ev.PolicySets) == 0 {
		return false
	}
	for _, set := range ev.PolicySets {
		if len(set.Policies) == 0 {
			return false
		}
		for _, p := range set.Policies {
			if len(p.Rules) == 0 {
				return false
			}
			for _, r := range p.Rules {
				if r.Effect != types.EffectPermit {
					return false
				}
			}
		}
	}
	return true
}
