// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package delegation orchestrates incoming delegation requests: validation,
// the delegation-access rule, evaluation against stored policies, evidence
// wrapping and the audit trail.
package delegation

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/evidence"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/trust"
)

// CodeAccessDenied marks delegation requests the requester may not make on
// the parties involved.
const CodeAccessDenied = "DELEGATION_ACCESS_DENIED"

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ar",
	Subsystem: "delegation",
	Name:      "decisions_total",
	Help:      "Delegation evidence responses by outcome.",
}, []string{"outcome"})

// AuditLogger is the journal surface the controller needs.
type AuditLogger interface {
	Log(ctx context.Context, q audit.Querier, rec audit.Record) error
}

// EvidenceFetcher asks an external policy decision point to fulfil a
// delegation request.
type EvidenceFetcher interface {
	Delegation(ctx context.Context, container types.DelegationRequestContainer) (*types.DelegationEvidenceContainer, error)
}

// Options tune the controller.
type Options struct {
	// EvidenceExpiry is the validity window of issued evidence.
	EvidenceExpiry time.Duration
	// AllowServiceProviderAccess grants fulfilment to a requester listed as
	// the sole service provider of every requested policy.
	AllowServiceProviderAccess bool
	// PDP, when set, is consulted as a last resort of the delegation-access
	// rule: a third-party requester passes when the external decision point
	// holds evidence that the policy issuer delegated policy reading to it.
	PDP EvidenceFetcher
}

// Service answers delegation requests.
type Service struct {
	source   store.EvaluationSource
	builder  *evidence.Builder
	signer   trust.Signer
	verifier trust.Verifier
	journal  AuditLogger
	clk      clock.Clock
	opts     Options
}

// NewService wires the delegation controller.
func NewService(source store.EvaluationSource, signer trust.Signer, verifier trust.Verifier,
	journal AuditLogger, clk clock.Clock, opts Options) *Service {
	return &Service{
		source:   source,
		builder:  evidence.NewBuilder(clk),
		signer:   signer,
		verifier: verifier,
		journal:  journal,
		clk:      clk,
		opts:     opts,
	}
}

// Delegate validates and fulfils one delegation request on behalf of the
// authenticated requester.
func (s *Service) Delegate(ctx context.Context, requester string, container types.DelegationRequestContainer) (*types.DelegationEvidenceContainer, error) {
	req := container.DelegationRequest
	if err := types.ValidateDelegationRequest(req); err != nil {
		return nil, err
	}
	if !s.mayRequest(ctx, requester, req) {
		return nil, oops.Code(CodeAccessDenied).
			With("requester", requester).
			With("policy_issuer", req.PolicyIssuer).
			With("access_subject", req.Target.AccessSubject).
			Errorf("requester is not a party to this delegation")
	}

	stored, err := s.source.FindForEvaluation(ctx, req.PolicyIssuer, req.Target.AccessSubject)
	if err != nil {
		return nil, oops.Wrapf(err, "loading candidate policy sets")
	}

	ev := s.builder.Build(req, stored, s.opts.EvidenceExpiry)
	decisions.WithLabelValues(outcome(ev)).Inc()

	if err := s.journal.Log(ctx, nil, audit.Record{
		Timestamp: s.clk.Now(),
		EventType: audit.EventDelegationRequest,
		EntryID:   req.PolicyIssuer,
		Source:    &requester,
		Context:   req,
	}); err != nil {
		return nil, err
	}

	return &types.DelegationEvidenceContainer{DelegationEvidence: ev}, nil
}

// SignToken wraps evidence in a delegation token addressed to the requester.
func (s *Service) SignToken(requester string, container types.DelegationEvidenceContainer) (string, error) {
	return s.signer.SignDelegationToken(requester, container)
}

// mayRequest is the delegation-access rule: the requester must be a party
// to the delegation (subject or issuer), the service provider of every
// requested policy when that path is enabled, or the beneficiary of a
// verifiable previous-step token.
func (s *Service) mayRequest(ctx context.Context, requester string, req types.DelegationRequest) bool {
	if requester == req.Target.AccessSubject || requester == req.PolicyIssuer {
		return true
	}
	if s.opts.AllowServiceProviderAccess && allServiceProvidersAre(req, requester) {
		return true
	}
	for _, step := range req.PreviousSteps {
		cont, err := s.verifier.VerifyDelegationToken(step)
		if err != nil {
			slog.DebugContext(ctx, "rejected previous step", "requester", requester, "error", err)
			continue
		}
		ev := cont.DelegationEvidence
		if ev.Target.AccessSubject == requester && trust.VerifyDelegationEvidence(&ev, s.clk.Now()) {
			return true
		}
	}
	return s.pdpGrants(ctx, requester, req.PolicyIssuer)
}

// pdpGrants asks the external decision point whether the issuer delegated
// reading its policies to the requester.
func (s *Service) pdpGrants(ctx context.Context, requester, issuer string) bool {
	if s.opts.PDP == nil {
		return false
	}
	synthetic := types.DelegationRequestContainer{DelegationRequest: types.DelegationRequest{
		PolicyIssuer: issuer,
		Target:       types.DelegationTarget{AccessSubject: requester},
		PolicySets: []types.PolicySet{{Policies: []types.Policy{{
			Target: types.Target{
				Resource: types.Resource{
					Type:        types.PDPPolicyType,
					Identifiers: []string{types.Wildcard},
					Attributes:  []string{types.Wildcard},
				},
				Actions:     []string{"Read"},
				Environment: &types.Environment{ServiceProviders: []string{requester}},
			},
			Rules: []types.Rule{{Effect: types.EffectPermit}},
		}}}},
	}}

	cont, err := s.opts.PDP.Delegation(ctx, synthetic)
	if err != nil {
		slog.WarnContext(ctx, "decision point query failed", "requester", requester, "issuer", issuer, "error", err)
		return false
	}
	return trust.VerifyDelegationEvidence(&cont.DelegationEvidence, s.clk.Now())
}

func allServiceProvidersAre(req types.DelegationRequest, requester string) bool {
	sawAny := false
	for _, set := range req.PolicySets {
		for _, p := range set.Policies {
			if p.Target.Environment == nil || len(p.Target.Environment.ServiceProviders) == 0 {
				return false
			}
			for _, sp := range p.Target.Environment.ServiceProviders {
				sawAny = true
				if sp != requester {
					return false
				}
			}
		}
	}
	return sawAny
}

func outcome(ev types.DelegationEvidence) string {
	for _, set := range ev.PolicySets {
		for _, p := range set.Policies {
			for _, r := range p.Rules {
				if r.Effect != types.EffectPermit {
					return "deny"
				}
			}
		}
	}
	return "permit"
}
