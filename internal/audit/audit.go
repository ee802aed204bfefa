// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package audit is the append-only journal of delegation requests and
// policy-set mutations, and its guarded retrieval.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event types recorded by the registry.
const (
	EventDelegationRequest = "dmi:ar:delegation:request"
	EventPolicySetCreated  = "dmi:ar:policy_set:created"
	EventPolicySetEdited   = "dmi:ar:policy_set:edited"
	EventPolicySetDeleted  = "dmi:ar:policy_set:deleted"
)

// Edit sub-tags carried in the data document of a policy_set:edited event.
const (
	EditPolicyAdded    = "PolicyAdded"
	EditPolicyRemoved  = "PolicyRemoved"
	EditPolicyReplaced = "PolicyReplaced"
)

// Error codes surfaced by this package.
const (
	CodeAuditWriteFailed  = "AUDIT_WRITE_FAILED"
	CodeAuditAccessDenied = "AUDIT_ACCESS_DENIED"
)

// Event is one journal row. Unlike the delegation wire shapes, audit rows
// use snake_case field names.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Source    *string         `json:"source,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	EntryID   string          `json:"entry_id"`
}

// EventWithParties is a retrieved event augmented with the requesting and
// controlling parties.
type EventWithParties struct {
	Event
	Iss string `json:"iss"`
	Sub string `json:"sub"`
}

// Querier is the database surface the journal needs; satisfied by pgxpool,
// a pgx transaction, and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AccessChecker gates retrieval; satisfied by the delegation guard.
type AccessChecker interface {
	MayResource(ctx context.Context, requester, action, issuer, resourceType string, identifiers []string) (bool, error)
}
