// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package store defines the policy-set store interface and its PostgreSQL
// implementation.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dexspace/authregistry/internal/delegation/types"
)

// Filter narrows FindPolicySets. AccessSubject and PolicyIssuer are
// case-insensitive substring matches; nil means no filter on that column.
type Filter struct {
	AccessSubject *string
	PolicyIssuer  *string
	Skip          int
	Limit         int
}

// Store handles persistence of policy sets and their policies.
type Store interface {
	// UpsertPolicySetWithPolicies inserts a policy set and its initial
	// policies in a single transaction; on any failure the whole insert is
	// rolled back.
	UpsertPolicySetWithPolicies(ctx context.Context, now time.Time, spec types.PolicySetSpec) (uuid.UUID, error)

	// FindPolicySets returns policy sets matching the filter, newest first,
	// joined with their policies, plus the unpaginated total count.
	FindPolicySets(ctx context.Context, f Filter) ([]types.StoredPolicySet, int, error)

	// FindOwnPolicySets returns policy sets whose access subject or policy
	// issuer contains the given EORI.
	FindOwnPolicySets(ctx context.Context, eori string) ([]types.StoredPolicySet, error)

	// FindForEvaluation returns the candidate sets for the matching engine:
	// exact equality on both parties.
	FindForEvaluation(ctx context.Context, policyIssuer, accessSubject string) ([]types.StoredPolicySet, error)

	GetPolicySet(ctx context.Context, id uuid.UUID) (*types.StoredPolicySet, error)
	GetPolicy(ctx context.Context, policySetID, policyID uuid.UUID) (*types.StoredPolicy, error)

	AddPolicy(ctx context.Context, policySetID uuid.UUID, p types.Policy) (*types.StoredPolicy, error)
	ReplacePolicy(ctx context.Context, policySetID, policyID uuid.UUID, p types.Policy) (*types.StoredPolicy, error)
	DeletePolicy(ctx context.Context, policySetID, policyID uuid.UUID) error

	// DeletePolicySet removes the set and its policies in one transaction.
	DeletePolicySet(ctx context.Context, id uuid.UUID) error
}

// EvaluationSource is the narrow read surface the matching pipeline needs.
type EvaluationSource interface {
	FindForEvaluation(ctx context.Context, policyIssuer, accessSubject string) ([]types.StoredPolicySet, error)
}
