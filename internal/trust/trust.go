// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package trust talks to the iSHARE trust anchor (the satellite) and the
// identity provider, and carries the signing and verification primitives
// for delegation tokens.
package trust

import (
	"context"

	"github.com/dexspace/authregistry/internal/delegation/types"
)

// Error codes surfaced by the trust package.
const (
	CodeTokenFetchFailed  = "SATELLITE_TOKEN_FAILED"
	CodePartyLookupFailed = "PARTY_LOOKUP_FAILED"
	CodeInvalidToken      = "INVALID_DELEGATION_TOKEN"
	CodeBadCredentials    = "BAD_CLIENT_CREDENTIALS"
)

// TokenSource yields a currently-valid access token for outbound calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// PartyRegistry answers whether a party identifier names an adherent
// participant at the trust anchor.
type PartyRegistry interface {
	IsAdherent(ctx context.Context, eori string) (bool, error)
}

// Signer signs outbound iSHARE tokens with the registry's own credentials.
type Signer interface {
	SignDelegationToken(audience string, container types.DelegationEvidenceContainer) (string, error)
	CapabilitiesToken() (string, error)
}

// Verifier checks inbound iSHARE delegation tokens against the trusted CA
// bundle and returns the embedded evidence.
type Verifier interface {
	VerifyDelegationToken(token string) (*types.DelegationEvidenceContainer, error)
}
