// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package seed loads policy sets from a folder of JSON documents at
// startup. Seeding is idempotent in effect only insofar as the folder is
// loaded once per fresh database; it exists for test and demo deployments.
package seed

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
)

// Load inserts every policy set found in dir (files matching *.json, each
// holding one PolicySetSpec). It returns the number of sets inserted.
func Load(ctx context.Context, dir string, st store.Store, clk clock.Clock) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, oops.Code("SEED_FAILED").With("dir", dir).Wrapf(err, "reading seed folder")
	}

	inserted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return inserted, oops.Code("SEED_FAILED").With("file", path).Wrap(err)
		}

		var spec types.PolicySetSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return inserted, oops.Code("SEED_FAILED").With("file", path).Wrapf(err, "parsing seed document")
		}
		for _, p := range spec.Policies {
			if err := types.ValidateRules(p.Rules); err != nil {
				return inserted, oops.Code("SEED_FAILED").With("file", path).Wrap(err)
			}
		}

		id, err := st.UpsertPolicySetWithPolicies(ctx, clk.Now(), spec)
		if err != nil {
			return inserted, oops.Code("SEED_FAILED").With("file", path).Wrap(err)
		}
		inserted++
		slog.InfoContext(ctx, "seeded policy set",
			"file", entry.Name(),
			"policy_set_id", id,
			"policy_issuer", spec.PolicyIssuer,
			"access_subject", spec.AccessSubject)
	}
	return inserted, nil
}
