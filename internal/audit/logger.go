// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

var (
	eventsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ar",
		Subsystem: "audit",
		Name:      "events_written_total",
		Help:      "Audit events appended to the journal.",
	}, []string{"event_type"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ar",
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Audit events that could not be written.",
	}, []string{"event_type"})
)

// Record is one event to append. Context and Data are marshalled to JSON
// as-is; either may be nil.
type Record struct {
	Timestamp time.Time
	EventType string
	EntryID   string
	Source    *string
	Context   any
	Data      any
}

// Logger appends events to the journal.
type Logger struct {
	db Querier
}

// NewLogger builds a journal writer over the connection pool.
func NewLogger(db Querier) *Logger {
	return &Logger{db: db}
}

const insertEvent = `INSERT INTO audit_events (id, timestamp, event_type, source, context, data, entry_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Log appends one event. When q is non-nil the write joins the caller's
// transaction so a rolled-back mutation leaves no trace; otherwise it goes
// straight to the pool.
func (l *Logger) Log(ctx context.Context, q Querier, rec Record) error {
	if q == nil {
		q = l.db
	}

	contextDoc, err := marshalDoc(rec.Context)
	if err != nil {
		return oops.Code(CodeAuditWriteFailed).With("event_type", rec.EventType).Wrap(err)
	}
	dataDoc, err := marshalDoc(rec.Data)
	if err != nil {
		return oops.Code(CodeAuditWriteFailed).With("event_type", rec.EventType).Wrap(err)
	}

	_, err = q.Exec(ctx, insertEvent,
		uuid.New(), rec.Timestamp, rec.EventType, rec.Source, contextDoc, dataDoc, rec.EntryID)
	if err != nil {
		writeFailures.WithLabelValues(rec.EventType).Inc()
		return oops.Code(CodeAuditWriteFailed).
			With("event_type", rec.EventType).
			With("entry_id", rec.EntryID).
			Wrapf(err, "appending audit event")
	}

	eventsWritten.WithLabelValues(rec.EventType).Inc()
	return nil
}

func marshalDoc(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
