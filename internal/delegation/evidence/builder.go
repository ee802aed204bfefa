// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package evidence composes signed-payload-ready delegation evidence from
// the matching engine's output. This is the only place wall-clock values
// enter the delegation core; the clock is injected.
package evidence

import (
	"time"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/engine"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// Builder wraps engine output into delegation evidence documents.
type Builder struct {
	clk clock.Clock
}

// NewBuilder creates a Builder on the given clock.
func NewBuilder(clk clock.Clock) *Builder {
	return &Builder{clk: clk}
}

// Build evaluates the request against the candidate stored sets and wraps
// the emitted policy sets in a DelegationEvidence valid from now until
// now+expiry.
func (b *Builder) Build(req types.DelegationRequest, stored []types.StoredPolicySet, expiry time.Duration) types.DelegationEvidence {
	now := b.clk.Now().Unix()
	return types.DelegationEvidence{
		NotBefore:    now,
		NotOnOrAfter: now + int64(expiry.Seconds()),
		PolicyIssuer: req.PolicyIssuer,
		Target:       req.Target,
		PolicySets:   engine.Evaluate(req, stored),
	}
}
