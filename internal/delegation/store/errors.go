// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package store

import (
	"github.com/dexspace/authregistry/pkg/errutil"
)

// Error codes surfaced by the store.
const (
	CodePolicySetNotFound = "POLICY_SET_NOT_FOUND"
	CodePolicyNotFound    = "POLICY_NOT_FOUND"
)

// IsNotFound returns true if the error is a not-found error from the store.
func IsNotFound(err error) bool {
	return errutil.HasCode(err, CodePolicySetNotFound) ||
		errutil.HasCode(err, CodePolicyNotFound)
}
