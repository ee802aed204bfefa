// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package evidence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/evidence"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

func TestBuilder_Build(t *testing.T) {
	pinned := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	b := evidence.NewBuilder(clock.Fixed{T: pinned})

	req := types.DelegationRequest{
		PolicyIssuer: "EU.EORI.NL000000001",
		Target:       types.DelegationTarget{AccessSubject: "EU.EORI.NL000000002"},
		PolicySets: []types.PolicySet{{
			Policies: []types.Policy{{
				Target: types.Target{
					Resource: types.Resource{
						Type:        "TestResource",
						Identifiers: []string{"id1"},
						Attributes:  []string{"attr1"},
					},
					Actions: []string{"Read"},
				},
				Rules: []types.Rule{{Effect: types.EffectPermit}},
			}},
		}},
	}

	ev := b.Build(req, nil, time.Hour)

	assert.Equal(t, pinned.Unix(), ev.NotBefore)
	assert.Equal(t, pinned.Unix()+3600, ev.NotOnOrAfter)
	assert.Equal(t, "EU.EORI.NL000000001", ev.PolicyIssuer)
	assert.Equal(t, "EU.EORI.NL000000002", ev.Target.AccessSubject)
	// No stored sets: default-deny fallback.
	require.Len(t, ev.PolicySets, 1)
	assert.Equal(t, 0, ev.PolicySets[0].MaxDelegationDepth)
	assert.Equal(t, types.EffectDeny, ev.PolicySets[0].Policies[0].Rules[0].Effect)
}

func TestBuilder_BuildShortWindow(t *testing.T) {
	pinned := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	b := evidence.NewBuilder(clock.Fixed{T: pinned})

	ev := b.Build(types.DelegationRequest{}, nil, 30*time.Second)

	assert.Equal(t, int64(30), ev.NotOnOrAfter-ev.NotBefore)
}
