// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package clock abstracts wall-clock access so expiry computations are
// testable. The evidence builder is the only core component that reads time.
package clock

import "time"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the OS clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same instant. Intended for tests.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.T
}
