// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package engine implements the delegation masking algorithm: deciding which
// stored policies mask each requested policy and whether a requested tuple
// evaluates to Permit or Deny.
//
// Every function here is pure and deterministic. The engine never touches
// the clock, the database, or the network, so it is safe to call
// concurrently without locks.
package engine

import (
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// ContainedBy reports whether every element of a is a member of b.
// The empty set is contained by everything.
func ContainedBy(a, b []string) bool {
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StarOrContainedBy reports whether b's first element is the wildcard, or a
// is contained by b. Only the first element of b is inspected: a stored
// ["x","*"] does not wildcard while a stored ["*"] does. The asymmetry is
// preserved intentionally; changing it silently widens existing grants.
func StarOrContainedBy(a, b []string) bool {
	if len(b) > 0 && b[0] == types.Wildcard {
		return true
	}
	return ContainedBy(a, b)
}

// Matches reports whether the stored policy sp masks the requested policy p:
// identifiers, attributes and actions of the request must be wildcarded or
// contained by the stored lists, the resource type must match exactly, and
// any requested service providers must all be listed by the stored policy
// (no wildcard shortcut on service providers).
func Matches(p types.Policy, sp types.StoredPolicy) bool {
	if p.Target.Resource.Type != sp.ResourceType {
		return false
	}
	if !StarOrContainedBy(p.Target.Resource.Identifiers, sp.Identifiers) {
		return false
	}
	if !StarOrContainedBy(p.Target.Resource.Attributes, sp.Attributes) {
		return false
	}
	if !StarOrContainedBy(p.Target.Actions, sp.Actions) {
		return false
	}
	if p.Target.Environment != nil {
		if !ContainedBy(p.Target.Environment.ServiceProviders, sp.ServiceProviders) {
			return false
		}
	}
	return true
}

// denySubsumes reports whether a Deny carve-out target covers the requested
// policy. Service providers are not consulted in the carve-out; this
// mirrors the permit path's asymmetry and is preserved for parity.
func denySubsumes(p types.Policy, target types.Target) bool {
	if p.Target.Resource.Type != target.Resource.Type {
		return false
	}
	return StarOrContainedBy(p.Target.Resource.Identifiers, target.Resource.Identifiers) &&
		StarOrContainedBy(p.Target.Resource.Attributes, target.Resource.Attributes) &&
		StarOrContainedBy(p.Target.Actions, target.Actions)
}

// permitEffective reports whether the stored policy's rule list grants the
// requested policy: the leading Permit stands unless a Deny rule's target
// subsumes the request.
func permitEffective(p types.Policy, sp types.StoredPolicy) bool {
	effective := false
	for _, rule := range sp.Rules {
		switch rule.Effect {
		case types.EffectPermit:
			effective = true
		case types.EffectDeny:
			if rule.Target != nil && denySubsumes(p, *rule.Target) {
				return false
			}
		}
	}
	return effective
}

// PolicyEffect decides Permit or Deny for one requested policy against one
// matching stored set: Permit iff every stored policy in the set that masks
// the request is permit-effective for it. A single subsuming Deny flips the
// decision.
func PolicyEffect(p types.Policy, set types.StoredPolicySet) string {
	matched := false
	for _, sp := range set.Policies {
		if !Matches(p, sp) {
			continue
		}
		matched = true
		if !permitEffective(p, sp) {
			return types.EffectDeny
		}
	}
	if !matched {
		return types.EffectDeny
	}
	return types.EffectPermit
}

// setMatches reports whether the stored set masks the whole requested set:
// every requested policy needs at least one masking stored policy.
func setMatches(requested types.PolicySet, stored types.StoredPolicySet) bool {
	for _, p := range requested.Policies {
		found := false
		for _, sp := range stored.Policies {
			if Matches(p, sp) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// echoPolicy copies the requested policy with its rules replaced by the
// single computed effect.
func echoPolicy(p types.Policy, effect string) types.Policy {
	out := p
	out.Rules = []types.Rule{{Effect: effect}}
	return out
}

// Evaluate folds a delegation request against the candidate stored sets and
// emits evidence policy sets. Candidates must already be narrowed to the
// request's (policyIssuer, accessSubject) pair by the caller.
//
// Emission is cartesian: one evidence set per (requested set, matching
// stored set) pair. A requested set with no matching stored set yields a
// single default-deny set with depth 0 and the ISHARE.0001 license.
func Evaluate(req types.DelegationRequest, stored []types.StoredPolicySet) []types.EvidencePolicySet {
	var out []types.EvidencePolicySet
	for _, requested := range req.PolicySets {
		matching := make([]types.StoredPolicySet, 0, len(stored))
		for _, s := range stored {
			if setMatches(requested, s) {
				matching = append(matching, s)
			}
		}

		if len(matching) == 0 {
			out = append(out, defaultDenySet(requested))
			continue
		}

		for _, s := range matching {
			policies := make([]types.Policy, 0, len(requested.Policies))
			for _, p := range requested.Policies {
				policies = append(policies, echoPolicy(p, PolicyEffect(p, s)))
			}
			out = append(out, types.EvidencePolicySet{
				MaxDelegationDepth: s.MaxDelegationDepth,
				Target: types.EvidencePolicySetTarget{
					Environment: types.LicenseEnvironment{Licenses: s.Licenses},
				},
				Policies: policies,
			})
		}
	}
	return out
}

// defaultDenySet echoes every requested policy with effect Deny.
func defaultDenySet(requested types.PolicySet) types.EvidencePolicySet {
	policies := make([]types.Policy, 0, len(requested.Policies))
	for _, p := range requested.Policies {
		policies = append(policies, echoPolicy(p, types.EffectDeny))
	}
	return types.EvidencePolicySet{
		MaxDelegationDepth: 0,
		Target: types.EvidencePolicySetTarget{
			Environment: types.LicenseEnvironment{Licenses: []string{types.DefaultLicense}},
		},
		Policies: policies,
	}
}
