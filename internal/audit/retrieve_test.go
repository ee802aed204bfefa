// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/pkg/errutil"
)

type fakeChecker struct {
	allow bool
}

func (f *fakeChecker) MayResource(_ context.Context, _, _, _, _ string, _ []string) (bool, error) {
	return f.allow, nil
}

func eventRows(n int) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "timestamp", "event_type", "source", "context", "data", "entry_id"})
	for range n {
		rows.AddRow(uuid.New(), time.Now().UTC(), audit.EventDelegationRequest,
			(*string)(nil), []byte(nil), []byte(nil), "entry")
	}
	return rows
}

func TestRetriever_Retrieve(t *testing.T) {
	t.Run("denied without evidence", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		r := audit.NewRetriever(mock, &fakeChecker{allow: false})
		_, err = r.Retrieve(context.Background(), "NL.44444", "NL.24244", audit.Query{MaxResults: 10})

		require.Error(t, err)
		errutil.AssertErrorCode(t, err, audit.CodeAuditAccessDenied)
	})

	t.Run("augments rows with iss and sub", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT \$1`).
			WithArgs(10).
			WillReturnRows(eventRows(2))

		r := audit.NewRetriever(mock, &fakeChecker{allow: true})
		events, err := r.Retrieve(context.Background(), "NL.24244", "NL.24244", audit.Query{MaxResults: 10})

		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "NL.24244", events[0].Iss)
		assert.Equal(t, "NL.24244", events[0].Sub)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("time and event-type filters", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`FROM audit_events WHERE timestamp >= \$1 AND timestamp <= \$2 AND event_type = ANY\(\$3\)`).
			WithArgs(from, to, []string{audit.EventPolicySetCreated, audit.EventPolicySetDeleted}, 50).
			WillReturnRows(eventRows(1))

		r := audit.NewRetriever(mock, &fakeChecker{allow: true})
		events, err := r.Retrieve(context.Background(), "NL.24244", "NL.24244", audit.Query{
			From:       &from,
			To:         &to,
			MaxResults: 50,
			EventTypes: "dmi:ar:policy_set:created, dmi:ar:policy_set:deleted",
		})

		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("max results clamps low to 1", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT \$1`).
			WithArgs(1).
			WillReturnRows(eventRows(1))

		r := audit.NewRetriever(mock, &fakeChecker{allow: true})
		events, err := r.Retrieve(context.Background(), "NL.24244", "NL.24244", audit.Query{MaxResults: 0})

		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("max results clamps high to 1000", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT \$1`).
			WithArgs(1000).
			WillReturnRows(eventRows(3))

		r := audit.NewRetriever(mock, &fakeChecker{allow: true})
		events, err := r.Retrieve(context.Background(), "NL.24244", "NL.24244", audit.Query{MaxResults: 5000})

		require.NoError(t, err)
		assert.LessOrEqual(t, len(events), 1000)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
