// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package types defines the iSHARE delegation wire shapes and the domain
// types for stored policy sets.
//
// All wire fields are lowerCamelCase and match the iSHARE delegation
// evidence specification byte-for-byte. A Rule is a tagged variant with an
// "effect" discriminator: "Permit" rules carry no payload, "Deny" rules
// carry a carve-out target.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Rule effects.
const (
	EffectPermit = "Permit"
	EffectDeny   = "Deny"
)

// Wildcard is the literal that denotes "any" in identifier, attribute and
// action lists. Only meaningful as the first element of a stored list.
const Wildcard = "*"

// DefaultLicense is the license attached to default-deny fallback evidence.
const DefaultLicense = "ISHARE.0001"

// PDPPolicyType is the synthetic resource type used by the access guard
// when checking whether a requester may manage another party's policy sets.
const PDPPolicyType = "PDP.Policy"

// AuditLogResourceType is the synthetic resource type guarding audit-log
// retrieval.
const AuditLogResourceType = "AuditLog"

// Resource names what a policy applies to.
type Resource struct {
	Type        string   `json:"type"`
	Identifiers []string `json:"identifiers"`
	Attributes  []string `json:"attributes"`
}

// Environment constrains the service providers a policy applies through.
type Environment struct {
	ServiceProviders []string `json:"serviceProviders"`
}

// Target combines a resource, the actions on it and an optional environment.
// Deny-rule carve-out targets carry no environment.
type Target struct {
	Resource    Resource     `json:"resource"`
	Actions     []string     `json:"actions,omitempty"`
	Environment *Environment `json:"environment,omitempty"`
}

// Rule is either a bare Permit or a Deny with a carve-out target.
type Rule struct {
	Effect string  `json:"effect"`
	Target *Target `json:"target,omitempty"`
}

// Policy is a single masked policy inside a delegation request, a stored
// policy set, or emitted delegation evidence.
type Policy struct {
	Target Target `json:"target"`
	Rules  []Rule `json:"rules"`
}

// PolicySet groups the policies of one requested mask.
type PolicySet struct {
	Policies []Policy `json:"policies"`
}

// DelegationTarget names the access subject a request or evidence is about.
type DelegationTarget struct {
	AccessSubject string `json:"accessSubject"`
}

// DelegationRequest asks whether the access subject may perform the masked
// policies on behalf of the policy issuer.
type DelegationRequest struct {
	PolicyIssuer   string           `json:"policyIssuer"`
	Target         DelegationTarget `json:"target"`
	PolicySets     []PolicySet      `json:"policySets"`
	PreviousSteps  []string         `json:"previous_steps,omitempty"`
	DelegationPath []string         `json:"delegation_path,omitempty"`
}

// DelegationRequestContainer is the body of POST /delegation.
type DelegationRequestContainer struct {
	DelegationRequest DelegationRequest `json:"delegationRequest"`
}

// LicenseEnvironment carries the licenses of an evidence policy set.
type LicenseEnvironment struct {
	Licenses []string `json:"licenses"`
}

// EvidencePolicySetTarget wraps the license environment.
type EvidencePolicySetTarget struct {
	Environment LicenseEnvironment `json:"environment"`
}

// EvidencePolicySet is one emitted policy set inside delegation evidence.
type EvidencePolicySet struct {
	MaxDelegationDepth int                     `json:"maxDelegationDepth"`
	Target             EvidencePolicySetTarget `json:"target"`
	Policies           []Policy                `json:"policies"`
}

// DelegationEvidence asserts the outcome of a delegation request within a
// validity window.
type DelegationEvidence struct {
	NotBefore    int64               `json:"notBefore"`
	NotOnOrAfter int64               `json:"notOnOrAfter"`
	PolicyIssuer string              `json:"policyIssuer"`
	Target       DelegationTarget    `json:"target"`
	PolicySets   []EvidencePolicySet `json:"policySets"`
}

// DelegationEvidenceContainer is the JSON response of POST /delegation.
type DelegationEvidenceContainer struct {
	DelegationEvidence DelegationEvidence `json:"delegationEvidence"`
}

// StoredPolicy is the persisted form of a policy, flattened out of the wire
// target for matching and storage.
type StoredPolicy struct {
	ID               uuid.UUID
	ResourceType     string
	Identifiers      []string
	Attributes       []string
	Actions          []string
	ServiceProviders []string
	Rules            []Rule
}

// StoredPolicySet is a persisted policy set with its policies.
type StoredPolicySet struct {
	ID                 uuid.UUID
	PolicyIssuer       string
	AccessSubject      string
	Licenses           []string
	MaxDelegationDepth int
	CreatedAt          time.Time
	Policies           []StoredPolicy
}

// PolicySetSpec is the body of POST /policy-set: a policy set created
// atomically with its initial policies.
type PolicySetSpec struct {
	PolicyIssuer       string   `json:"policyIssuer"`
	AccessSubject      string   `json:"accessSubject"`
	Licenses           []string `json:"licenses"`
	MaxDelegationDepth int      `json:"maxDelegationDepth"`
	Policies           []Policy `json:"policies"`
}

// StoredPolicyDocument is the wire form of a stored policy.
type StoredPolicyDocument struct {
	PolicyID uuid.UUID `json:"policyId"`
	Policy
}

// PolicySetDocument is the wire form of a stored policy set with policies.
type PolicySetDocument struct {
	PolicySetID        uuid.UUID              `json:"policySetId"`
	PolicyIssuer       string                 `json:"policyIssuer"`
	AccessSubject      string                 `json:"accessSubject"`
	Licenses           []string               `json:"licenses"`
	MaxDelegationDepth int                    `json:"maxDelegationDepth"`
	CreatedAt          time.Time              `json:"createdAt"`
	Policies           []StoredPolicyDocument `json:"policies"`
}

// ToWire converts a stored policy back to its wire shape.
func (p StoredPolicy) ToWire() Policy {
	target := Target{
		Resource: Resource{
			Type:        p.ResourceType,
			Identifiers: p.Identifiers,
			Attributes:  p.Attributes,
		},
		Actions: p.Actions,
	}
	if len(p.ServiceProviders) > 0 {
		target.Environment = &Environment{ServiceProviders: p.ServiceProviders}
	}
	return Policy{Target: target, Rules: p.Rules}
}

// ToDocument converts a stored policy to its REST document shape.
func (p StoredPolicy) ToDocument() StoredPolicyDocument {
	return StoredPolicyDocument{PolicyID: p.ID, Policy: p.ToWire()}
}

// ToDocument converts a stored policy set to its REST document shape.
func (ps StoredPolicySet) ToDocument() PolicySetDocument {
	doc := PolicySetDocument{
		PolicySetID:        ps.ID,
		PolicyIssuer:       ps.PolicyIssuer,
		AccessSubject:      ps.AccessSubject,
		Licenses:           ps.Licenses,
		MaxDelegationDepth: ps.MaxDelegationDepth,
		CreatedAt:          ps.CreatedAt,
		Policies:           make([]StoredPolicyDocument, 0, len(ps.Policies)),
	}
	for _, p := range ps.Policies {
		doc.Policies = append(doc.Policies, p.ToDocument())
	}
	return doc
}

// StoredPolicyFromWire flattens a wire policy into its persisted form.
// The caller assigns the ID.
func StoredPolicyFromWire(w Policy) StoredPolicy {
	sp := StoredPolicy{
		ResourceType: w.Target.Resource.Type,
		Identifiers:  w.Target.Resource.Identifiers,
		Attributes:   w.Target.Resource.Attributes,
		Actions:      w.Target.Actions,
		Rules:        w.Rules,
	}
	if w.Target.Environment != nil {
		sp.ServiceProviders = w.Target.Environment.ServiceProviders
	}
	return sp
}

// ResourceTypes returns the distinct resource types of the set's policies,
// in first-seen order. The lifecycle service uses this as the identifier
// list for access-guard checks.
func (ps StoredPolicySet) ResourceTypes() []string {
	seen := make(map[string]struct{}, len(ps.Policies))
	out := make([]string, 0, len(ps.Policies))
	for _, p := range ps.Policies {
		if _, ok := seen[p.ResourceType]; ok {
			continue
		}
		seen[p.ResourceType] = struct{}{}
		out = append(out, p.ResourceType)
	}
	return out
}

// ValidateDelegationRequest enforces the request preconditions: every masked
// policy needs at least one identifier, at least one attribute, and a
// concrete resource type (never the wildcard).
func ValidateDelegationRequest(req DelegationRequest) error {
	if req.PolicyIssuer == "" {
		return oops.Code("INVALID_DELEGATION_REQUEST").
			Errorf("policyIssuer must not be empty")
	}
	if req.Target.AccessSubject == "" {
		return oops.Code("INVALID_DELEGATION_REQUEST").
			Errorf("target.accessSubject must not be empty")
	}
	for _, set := range req.PolicySets {
		for _, p := range set.Policies {
			if p.Target.Resource.Type == Wildcard {
				return oops.Code("INVALID_DELEGATION_REQUEST").
					Errorf("resource type must not be the wildcard")
			}
			if len(p.Target.Resource.Identifiers) == 0 {
				return oops.Code("INVALID_DELEGATION_REQUEST").
					With("resource_type", p.Target.Resource.Type).
					Errorf("resource identifiers must not be empty")
			}
			if len(p.Target.Resource.Attributes) == 0 {
				return oops.Code("INVALID_DELEGATION_REQUEST").
					With("resource_type", p.Target.Resource.Type).
					Errorf("resource attributes must not be empty")
			}
		}
	}
	return nil
}

// ValidateRules enforces the stored-policy rule invariant: the list is
// non-empty and its first rule is a bare Permit.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return oops.Code("INVALID_POLICY").
			Errorf("rules must not be empty")
	}
	if rules[0].Effect != EffectPermit {
		return oops.Code("INVALID_POLICY").
			With("effect", rules[0].Effect).
			Errorf("first rule must be Permit")
	}
	return nil
}
