// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package httpapi exposes the registry over HTTP: machine and human
// authentication, the delegation endpoint, the policy-set lifecycle, the
// audit log and the public capabilities document.
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/policyset"
	"github.com/dexspace/authregistry/internal/token"
	"github.com/dexspace/authregistry/internal/trust"
)

// DelegationService answers delegation requests for an authenticated party.
type DelegationService interface {
	Delegate(ctx context.Context, requester string, container types.DelegationRequestContainer) (*types.DelegationEvidenceContainer, error)
	SignToken(requester string, container types.DelegationEvidenceContainer) (string, error)
}

// PolicySetService is the policy-set lifecycle.
type PolicySetService interface {
	Create(ctx context.Context, requester string, spec types.PolicySetSpec) (uuid.UUID, error)
	CreateAdmin(ctx context.Context, requester string, spec types.PolicySetSpec) (uuid.UUID, error)
	Get(ctx context.Context, requester string, id uuid.UUID) (*types.PolicySetDocument, error)
	ListOwn(ctx context.Context, requester string) ([]types.PolicySetDocument, error)
	List(ctx context.Context, f store.Filter) (*policyset.ListResult, error)
	AddPolicy(ctx context.Context, requester string, setID uuid.UUID, p types.Policy) (*types.StoredPolicyDocument, error)
	ReplacePolicy(ctx context.Context, requester string, setID, policyID uuid.UUID, p types.Policy) (*types.StoredPolicyDocument, error)
	RemovePolicy(ctx context.Context, requester string, setID, policyID uuid.UUID) error
	Delete(ctx context.Context, requester string, id uuid.UUID) error
}

// AuditService serves guarded journal reads.
type AuditService interface {
	Retrieve(ctx context.Context, client, controller string, q audit.Query) ([]audit.EventWithParties, error)
}

// AssertionVerifier validates inbound client assertions.
type AssertionVerifier interface {
	VerifyClientAssertion(token, audience string) (string, error)
}

// IdentityProvider drives the human login flow.
type IdentityProvider interface {
	AuthURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*trust.UserIdentity, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Delegation DelegationService
	PolicySets PolicySetService
	AuditLog   AuditService
	Sessions   *token.Service
	Assertions AssertionVerifier
	Registry   trust.PartyRegistry
	IDP        IdentityProvider
	Signer     trust.Signer

	// ClientEORI is this registry's party identifier; inbound client
	// assertions must be addressed to it.
	ClientEORI string
	// DeployRoute prefixes every endpoint except /metrics.
	DeployRoute string
}

// Server holds the handlers.
type Server struct {
	delegation  DelegationService
	policySets  PolicySetService
	auditLog    AuditService
	sessions    *token.Service
	assertions  AssertionVerifier
	registry    trust.PartyRegistry
	idp         IdentityProvider
	signer      trust.Signer
	clientEORI  string
	deployRoute string
}

// NewServer builds the HTTP layer.
func NewServer(deps Deps) *Server {
	return &Server{
		delegation:  deps.Delegation,
		policySets:  deps.PolicySets,
		auditLog:    deps.AuditLog,
		sessions:    deps.Sessions,
		assertions:  deps.Assertions,
		registry:    deps.Registry,
		idp:         deps.IDP,
		signer:      deps.Signer,
		clientEORI:  deps.ClientEORI,
		deployRoute: deps.DeployRoute,
	}
}

func requester(r *http.Request) string {
	if role := roleFrom(r.Context()); role != nil {
		return role.CompanyID
	}
	return ""
}
