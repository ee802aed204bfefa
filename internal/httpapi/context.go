// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package httpapi

import (
	"context"

	"github.com/dexspace/authregistry/internal/token"
)

type contextKey int

const (
	roleKey contextKey = iota
	requestIDKey
)

func withRole(ctx context.Context, role *token.Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// roleFrom returns the authenticated caller identity, or nil on public
// routes.
func roleFrom(ctx context.Context) *token.Role {
	role, _ := ctx.Value(roleKey).(*token.Role)
	return role
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id assigned by the middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
