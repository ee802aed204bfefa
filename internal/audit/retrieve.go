// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/delegation/types"
)

// Retrieval bounds for max_results.
const (
	minResults = 1
	maxResults = 1000
)

// Query narrows a retrieval. MaxResults is clamped to [1, 1000].
// EventTypes is a comma-separated list matched with logical OR.
type Query struct {
	From       *time.Time
	To         *time.Time
	MaxResults int
	EventTypes string
}

// Retriever serves guarded reads of the journal.
type Retriever struct {
	db    Querier
	guard AccessChecker
}

// NewRetriever builds a journal reader gated by the access checker.
func NewRetriever(db Querier, guard AccessChecker) *Retriever {
	return &Retriever{db: db, guard: guard}
}

// Retrieve returns controller's journal entries visible to client, newest
// first. Access requires client == controller or delegation evidence for
// reading the synthetic AuditLog resource.
func (r *Retriever) Retrieve(ctx context.Context, client, controller string, q Query) ([]EventWithParties, error) {
	ok, err := r.guard.MayResource(ctx, client, "Read", controller, types.AuditLogResourceType, []string{types.Wildcard})
	if err != nil {
		return nil, oops.With("client", client).With("controller", controller).Wrap(err)
	}
	if !ok {
		return nil, oops.Code(CodeAuditAccessDenied).
			With("client", client).
			With("controller", controller).
			Errorf("no delegation evidence for reading the audit log")
	}

	query, args := buildRetrieveQuery(q)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("AUDIT_READ_FAILED").Wrapf(err, "querying audit events")
	}
	defer rows.Close()

	out := make([]EventWithParties, 0, clampResults(q.MaxResults))
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.EventType, &ev.Source, &ev.Context, &ev.Data, &ev.EntryID); err != nil {
			return nil, oops.Code("AUDIT_READ_FAILED").Wrapf(err, "scanning audit event")
		}
		out = append(out, EventWithParties{Event: ev, Iss: client, Sub: controller})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_READ_FAILED").Wrap(err)
	}
	return out, nil
}

func buildRetrieveQuery(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, timestamp, event_type, source, context, data, entry_id FROM audit_events`)

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.From != nil {
		conds = append(conds, "timestamp >= "+arg(*q.From))
	}
	if q.To != nil {
		conds = append(conds, "timestamp <= "+arg(*q.To))
	}
	if q.EventTypes != "" {
		kinds := strings.Split(q.EventTypes, ",")
		for i := range kinds {
			kinds[i] = strings.TrimSpace(kinds[i])
		}
		conds = append(conds, "event_type = ANY("+arg(kinds)+")")
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	sb.WriteString(" ORDER BY timestamp DESC, id DESC")
	sb.WriteString(" LIMIT " + arg(clampResults(q.MaxResults)))
	return sb.String(), args
}

func clampResults(n int) int {
	if n < minResults {
		return minResults
	}
	if n > maxResults {
		return maxResults
	}
	return n
}
