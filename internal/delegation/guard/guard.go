// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package guard answers the recursive authorization question: may a
// requester manage policy sets owned by another party? The answer is
// derived from the same matching engine that serves delegation requests,
// applied to a synthetic "PDP.Policy" request.
package guard

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/evidence"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/trust"
)

// evidenceWindow is the validity window of the guard's internal evidence.
// It only needs to outlive the request being served.
const evidenceWindow = 30 * time.Second

// Guard decides policy-set management access.
type Guard struct {
	source  store.EvaluationSource
	builder *evidence.Builder
	clk     clock.Clock
}

// New builds a guard over the given policy source.
func New(source store.EvaluationSource, clk clock.Clock) *Guard {
	return &Guard{
		source:  source,
		builder: evidence.NewBuilder(clk),
		clk:     clk,
	}
}

// May reports whether requester can perform action on issuer's policy sets
// covering the given resource-type identifiers. A party always manages its
// own sets; anyone else needs delegation evidence issued by the owner for
// the synthetic PDP.Policy resource.
func (g *Guard) May(ctx context.Context, requester, action, issuer string, identifiers []string) (bool, error) {
	return g.MayResource(ctx, requester, action, issuer, types.PDPPolicyType, identifiers)
}

// MayResource is May generalised over the synthetic resource type; audit-log
// retrieval uses it with "AuditLog".
//
// The synthetic request terminates: evaluation is a pure function over
// stored policies and never issues further guard checks.
func (g *Guard) MayResource(ctx context.Context, requester, action, issuer, resourceType string, identifiers []string) (bool, error) {
	if requester == issuer {
		return true, nil
	}
	if len(identifiers) == 0 {
		identifiers = []string{types.Wildcard}
	}

	req := types.DelegationRequest{
		PolicyIssuer: issuer,
		Target:       types.DelegationTarget{AccessSubject: requester},
		PolicySets: []types.PolicySet{{
			Policies: []types.Policy{{
				Target: types.Target{
					Resource: types.Resource{
						Type:        resourceType,
						Identifiers: identifiers,
						Attributes:  []string{types.Wildcard},
					},
					Actions:     []string{action},
					Environment: &types.Environment{ServiceProviders: []string{requester}},
				},
				Rules: []types.Rule{{Effect: types.EffectPermit}},
			}},
		}},
	}

	stored, err := g.source.FindForEvaluation(ctx, issuer, requester)
	if err != nil {
		return false, oops.Code("GUARD_EVALUATION_FAILED").
			With("requester", requester).
			With("issuer", issuer).
			With("action", action).
			Wrapf(err, "loading policy sets for access check")
	}

	ev := g.builder.Build(req, stored, evidenceWindow)
	return trust.VerifyDelegationEvidence(&ev, g.clk.Now()), nil
}
