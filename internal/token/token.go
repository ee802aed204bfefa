// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package token mints and decodes the registry's internal session tokens:
// short-lived HS256 JWTs carrying the authenticated caller's identity.
package token

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/clock"
)

// Role kinds.
const (
	RoleMachine = "machine"
	RoleHuman   = "human"
)

// AdminRealmRole is the realm role that opens the admin namespace.
const AdminRealmRole = "dexspace_admin"

// CodeInvalidSession marks rejected session tokens.
const CodeInvalidSession = "INVALID_SESSION_TOKEN"

// Role is the tagged caller identity inside a session token. Machine
// callers carry only their company; human callers add the user and their
// realm roles.
type Role struct {
	Kind             string   `json:"role"`
	CompanyID        string   `json:"company_id"`
	UserID           string   `json:"user_id,omitempty"`
	RealmAccessRoles []string `json:"realm_access_roles,omitempty"`
}

// MachineRole is the identity of a party authenticated via client assertion.
func MachineRole(companyID string) Role {
	return Role{Kind: RoleMachine, CompanyID: companyID}
}

// HumanRole is the identity of a user authenticated via the identity
// provider.
func HumanRole(companyID, userID string, realmRoles []string) Role {
	return Role{Kind: RoleHuman, CompanyID: companyID, UserID: userID, RealmAccessRoles: realmRoles}
}

// IsAdmin reports whether the caller is a human with the admin realm role.
func (r Role) IsAdmin() bool {
	return r.Kind == RoleHuman && slices.Contains(r.RealmAccessRoles, AdminRealmRole)
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Service mints and decodes session tokens with a single symmetric secret.
type Service struct {
	secret []byte
	expiry time.Duration
	clk    clock.Clock
}

// NewService builds a token service. expiry applies to every minted token.
func NewService(secret string, expiry time.Duration, clk clock.Clock) *Service {
	return &Service{secret: []byte(secret), expiry: expiry, clk: clk}
}

// Expiry is the configured token lifetime.
func (s *Service) Expiry() time.Duration {
	return s.expiry
}

// Create mints a session token for the given identity.
func (s *Service) Create(role Role) (string, error) {
	now := s.clk.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code(CodeInvalidSession).Wrapf(err, "signing session token")
	}
	return signed, nil
}

// Decode validates a session token and returns the caller identity.
// Expired, tampered and foreign-algorithm tokens are all rejected.
func (s *Service) Decode(tokenStr string) (*Role, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clk.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, oops.Code(CodeInvalidSession).Wrapf(err, "parsing session token")
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeInvalidSession).Errorf("session token is not valid")
	}
	return &claims.Role, nil
}
