// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package policyset is the lifecycle of stored policy sets: create, read,
// edit and delete, each gated by the access guard and journalled.
package policyset

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/trust"
)

// Guard actions used by the lifecycle.
const (
	ActionCreate = "Create"
	ActionRead   = "Read"
	ActionEdit   = "Edit"
	ActionDelete = "Delete"
)

// Error codes surfaced by this package.
const (
	CodeForbidden    = "POLICY_SET_FORBIDDEN"
	CodeUnknownParty = "UNKNOWN_PARTY"
)

// AccessGuard is the recursive authorization check of the delegation guard.
type AccessGuard interface {
	May(ctx context.Context, requester, action, issuer string, identifiers []string) (bool, error)
}

// AuditLogger is the journal surface the lifecycle needs.
type AuditLogger interface {
	Log(ctx context.Context, q audit.Querier, rec audit.Record) error
}

// Service implements the policy-set lifecycle.
type Service struct {
	store    store.Store
	guard    AccessGuard
	registry trust.PartyRegistry
	journal  AuditLogger
	clk      clock.Clock
}

// NewService wires the lifecycle.
func NewService(st store.Store, guard AccessGuard, registry trust.PartyRegistry,
	journal AuditLogger, clk clock.Clock) *Service {
	return &Service{store: st, guard: guard, registry: registry, journal: journal, clk: clk}
}

// Create inserts a policy set with its initial policies on behalf of
// requester. The named parties must be adherent at the trust anchor, and a
// requester who is not the policy issuer needs delegation evidence.
func (s *Service) Create(ctx context.Context, requester string, spec types.PolicySetSpec) (uuid.UUID, error) {
	return s.create(ctx, requester, spec, false)
}

// CreateAdmin is Create without the guard check. Callers gate it on the
// admin realm role; trust-anchor party validation still applies.
func (s *Service) CreateAdmin(ctx context.Context, requester string, spec types.PolicySetSpec) (uuid.UUID, error) {
	return s.create(ctx, requester, spec, true)
}

func (s *Service) create(ctx context.Context, requester string, spec types.PolicySetSpec, skipGuard bool) (uuid.UUID, error) {
	for _, p := range spec.Policies {
		if err := types.ValidateRules(p.Rules); err != nil {
			return uuid.Nil, err
		}
	}
	if err := s.validateParties(ctx, spec); err != nil {
		return uuid.Nil, err
	}

	if !skipGuard {
		identifiers := resourceTypes(spec.Policies)
		if err := s.require(ctx, requester, ActionCreate, spec.PolicyIssuer, identifiers); err != nil {
			return uuid.Nil, err
		}
	}

	id, err := s.store.UpsertPolicySetWithPolicies(ctx, s.clk.Now(), spec)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.journal.Log(ctx, nil, audit.Record{
		Timestamp: s.clk.Now(),
		EventType: audit.EventPolicySetCreated,
		EntryID:   id.String(),
		Source:    &requester,
		Context:   spec,
	}); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get returns one policy set, readable by its parties or by delegation.
func (s *Service) Get(ctx context.Context, requester string, id uuid.UUID) (*types.PolicySetDocument, error) {
	ps, err := s.store.GetPolicySet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, requester, ActionRead, ps.PolicyIssuer, ps.ResourceTypes()); err != nil {
		return nil, err
	}
	doc := ps.ToDocument()
	return &doc, nil
}

// ListOwn returns every policy set the requester issues or is subject of.
func (s *Service) ListOwn(ctx context.Context, requester string) ([]types.PolicySetDocument, error) {
	sets, err := s.store.FindOwnPolicySets(ctx, requester)
	if err != nil {
		return nil, err
	}
	docs := make([]types.PolicySetDocument, 0, len(sets))
	for _, ps := range sets {
		docs = append(docs, ps.ToDocument())
	}
	return docs, nil
}

// ListResult is one page of an admin listing.
type ListResult struct {
	PolicySets []types.PolicySetDocument `json:"policySets"`
	TotalCount int                       `json:"totalCount"`
}

// List is the unguarded admin listing with substring filters and pagination.
func (s *Service) List(ctx context.Context, f store.Filter) (*ListResult, error) {
	sets, total, err := s.store.FindPolicySets(ctx, f)
	if err != nil {
		return nil, err
	}
	out := &ListResult{
		PolicySets: make([]types.PolicySetDocument, 0, len(sets)),
		TotalCount: total,
	}
	for _, ps := range sets {
		out.PolicySets = append(out.PolicySets, ps.ToDocument())
	}
	return out, nil
}

// AddPolicy appends a policy to an existing set.
func (s *Service) AddPolicy(ctx context.Context, requester string, setID uuid.UUID, p types.Policy) (*types.StoredPolicyDocument, error) {
	if err := types.ValidateRules(p.Rules); err != nil {
		return nil, err
	}
	ps, err := s.store.GetPolicySet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, requester, ActionEdit, ps.PolicyIssuer, ps.ResourceTypes()); err != nil {
		return nil, err
	}

	stored, err := s.store.AddPolicy(ctx, setID, p)
	if err != nil {
		return nil, err
	}
	if err := s.logEdit(ctx, requester, setID, audit.EditPolicyAdded, stored.ID); err != nil {
		return nil, err
	}
	doc := stored.ToDocument()
	return &doc, nil
}

// ReplacePolicy swaps a policy in place, keeping its identifier.
func (s *Service) ReplacePolicy(ctx context.Context, requester string, setID, policyID uuid.UUID, p types.Policy) (*types.StoredPolicyDocument, error) {
	if err := types.ValidateRules(p.Rules); err != nil {
		return nil, err
	}
	ps, err := s.store.GetPolicySet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, requester, ActionEdit, ps.PolicyIssuer, ps.ResourceTypes()); err != nil {
		return nil, err
	}

	stored, err := s.store.ReplacePolicy(ctx, setID, policyID, p)
	if err != nil {
		return nil, err
	}
	if err := s.logEdit(ctx, requester, setID, audit.EditPolicyReplaced, policyID); err != nil {
		return nil, err
	}
	doc := stored.ToDocument()
	return &doc, nil
}

// RemovePolicy deletes a single policy. The guard check covers just the
// removed policy's resource type.
func (s *Service) RemovePolicy(ctx context.Context, requester string, setID, policyID uuid.UUID) error {
	ps, err := s.store.GetPolicySet(ctx, setID)
	if err != nil {
		return err
	}
	policy, err := s.store.GetPolicy(ctx, setID, policyID)
	if err != nil {
		return err
	}
	if err := s.require(ctx, requester, ActionEdit, ps.PolicyIssuer, []string{policy.ResourceType}); err != nil {
		return err
	}

	if err := s.store.DeletePolicy(ctx, setID, policyID); err != nil {
		return err
	}
	return s.logEdit(ctx, requester, setID, audit.EditPolicyRemoved, policyID)
}

// Delete removes a policy set and its policies.
func (s *Service) Delete(ctx context.Context, requester string, id uuid.UUID) error {
	ps, err := s.store.GetPolicySet(ctx, id)
	if err != nil {
		return err
	}
	if err := s.require(ctx, requester, ActionDelete, ps.PolicyIssuer, ps.ResourceTypes()); err != nil {
		return err
	}

	if err := s.store.DeletePolicySet(ctx, id); err != nil {
		return err
	}
	return s.journal.Log(ctx, nil, audit.Record{
		Timestamp: s.clk.Now(),
		EventType: audit.EventPolicySetDeleted,
		EntryID:   id.String(),
		Source:    &requester,
	})
}

func (s *Service) require(ctx context.Context, requester, action, issuer string, identifiers []string) error {
	ok, err := s.guard.May(ctx, requester, action, issuer, identifiers)
	if err != nil {
		return oops.Wrapf(err, "access check failed")
	}
	if !ok {
		return oops.Code(CodeForbidden).
			With("requester", requester).
			With("action", action).
			With("policy_issuer", issuer).
			Errorf("no delegation evidence for managing these policy sets")
	}
	return nil
}

func (s *Service) validateParties(ctx context.Context, spec types.PolicySetSpec) error {
	check := func(field, eori string) error {
		ok, err := s.registry.IsAdherent(ctx, eori)
		if err != nil {
			return oops.With("field", field).With("party", eori).Wrap(err)
		}
		if !ok {
			return oops.Code(CodeUnknownParty).
				With("field", field).
				With("party", eori).
				Errorf("%s names a party unknown to the trust anchor", field)
		}
		return nil
	}

	if err := check("policyIssuer", spec.PolicyIssuer); err != nil {
		return err
	}
	if err := check("accessSubject", spec.AccessSubject); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, p := range spec.Policies {
		if p.Target.Environment == nil {
			continue
		}
		for _, sp := range p.Target.Environment.ServiceProviders {
			if _, ok := seen[sp]; ok {
				continue
			}
			seen[sp] = struct{}{}
			if err := check("serviceProviders", sp); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) logEdit(ctx context.Context, requester string, setID uuid.UUID, subTag string, policyID uuid.UUID) error {
	return s.journal.Log(ctx, nil, audit.Record{
		Timestamp: s.clk.Now(),
		EventType: audit.EventPolicySetEdited,
		EntryID:   setID.String(),
		Source:    &requester,
		Data: map[string]string{
			"edit":     subTag,
			"policyId": policyID.String(),
		},
	})
}

func resourceTypes(policies []types.Policy) []string {
	seen := make(map[string]struct{}, len(policies))
	out := make([]string, 0, len(policies))
	for _, p := range policies {
		rt := p.Target.Resource.Type
		if _, ok := seen[rt]; ok {
			continue
		}
		seen[rt] = struct{}{}
		out = append(out, rt)
	}
	return out
}
