// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package trust

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// EvidenceSigner signs delegation and capabilities tokens with the
// registry's own client certificate.
type EvidenceSigner struct {
	creds *Credentials
	clk   clock.Clock
}

// NewEvidenceSigner builds a signer over the registry credentials.
func NewEvidenceSigner(creds *Credentials, clk clock.Clock) *EvidenceSigner {
	return &EvidenceSigner{creds: creds, clk: clk}
}

// SignDelegationToken wraps delegation evidence in an RS256 JWS addressed
// to the requesting party.
func (s *EvidenceSigner) SignDelegationToken(audience string, container types.DelegationEvidenceContainer) (string, error) {
	now := s.clk.Now()
	claims := jwt.MapClaims{
		"iss":                s.creds.EORI,
		"sub":                s.creds.EORI,
		"aud":                audience,
		"jti":                uuid.NewString(),
		"iat":                now.Unix(),
		"exp":                now.Add(assertionValidity).Unix(),
		"delegationEvidence": container.DelegationEvidence,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["x5c"] = s.creds.X5C()

	signed, err := tok.SignedString(s.creds.Key)
	if err != nil {
		return "", oops.Code(CodeBadCredentials).Wrapf(err, "signing delegation token")
	}
	return signed, nil
}

// CapabilitiesToken signs the public capabilities document of this registry.
func (s *EvidenceSigner) CapabilitiesToken() (string, error) {
	now := s.clk.Now()
	claims := jwt.MapClaims{
		"iss": s.creds.EORI,
		"sub": s.creds.EORI,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(assertionValidity).Unix(),
		"capabilities_info": map[string]any{
			"party_id":     s.creds.EORI,
			"ishare_roles": []string{"AuthorisationRegistry"},
			"supported_versions": []map[string]any{{
				"version": "1.0",
				"supported_features": []string{
					"delegation", "policy_sets", "audit_log", "capabilities",
				},
			}},
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["x5c"] = s.creds.X5C()

	signed, err := tok.SignedString(s.creds.Key)
	if err != nil {
		return "", oops.Code(CodeBadCredentials).Wrapf(err, "signing capabilities token")
	}
	return signed, nil
}
