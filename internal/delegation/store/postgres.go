// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/delegation/types"
)

// DB is the pgx surface the store needs. Satisfied by *pgxpool.Pool and by
// pgxmock.PgxPoolIface in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// policySetColumns is the shared column list for policy-set SELECT queries.
const policySetColumns = `id, policy_issuer, access_subject, licenses, max_delegation_depth, created_at`

// policyColumns is the shared column list for policy SELECT queries.
const policyColumns = `id, policy_set_id, resource_type, identifiers, attributes, actions, service_providers, rules`

// escapeLike neutralises SQL LIKE wildcard characters in user input so a
// filter of "50%" matches the literal string rather than everything.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UpsertPolicySetWithPolicies inserts the set row then each policy row in
// one transaction.
func (s *PostgresStore) UpsertPolicySetWithPolicies(ctx context.Context, now time.Time, spec types.PolicySetSpec) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, oops.Code("POLICY_SET_CREATE_FAILED").With("policy_issuer", spec.PolicyIssuer).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO policy_sets (id, policy_issuer, access_subject, licenses, max_delegation_depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, spec.PolicyIssuer, spec.AccessSubject, spec.Licenses, spec.MaxDelegationDepth, now)
	if err != nil {
		return uuid.Nil, oops.Code("POLICY_SET_CREATE_FAILED").With("policy_issuer", spec.PolicyIssuer).Wrap(err)
	}

	for _, p := range spec.Policies {
		if err := insertPolicy(ctx, tx, id, uuid.New(), types.StoredPolicyFromWire(p)); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, oops.Code("POLICY_SET_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return id, nil
}

// insertPolicy inserts one policy row inside an ambient transaction.
func insertPolicy(ctx context.Context, tx pgx.Tx, setID, policyID uuid.UUID, sp types.StoredPolicy) error {
	rulesJSON, err := json.Marshal(sp.Rules)
	if err != nil {
		return oops.Code("POLICY_CREATE_FAILED").With("operation", "marshal rules").Wrap(err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO policies (id, policy_set_id, resource_type, identifiers, attributes, actions, service_providers, rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, policyID, setID, sp.ResourceType, sp.Identifiers, sp.Attributes, sp.Actions, sp.ServiceProviders, rulesJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return oops.Code(CodePolicySetNotFound).With("policy_set_id", setID.String()).Errorf("policy set not found")
		}
		return oops.Code("POLICY_CREATE_FAILED").With("policy_set_id", setID.String()).Wrap(err)
	}
	return nil
}

// scanPolicy scans a row into a StoredPolicy. The policy_set_id column is
// scanned and discarded; callers already know it.
func scanPolicy(row pgx.Row) (*types.StoredPolicy, uuid.UUID, error) {
	var p types.StoredPolicy
	var setID uuid.UUID
	var rulesJSON []byte
	err := row.Scan(
		&p.ID, &setID, &p.ResourceType, &p.Identifiers,
		&p.Attributes, &p.Actions, &p.ServiceProviders, &rulesJSON,
	)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("scanning policy row: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decoding policy rules: %w", err)
	}
	return &p, setID, nil
}

// loadPolicies fetches the policies of the given sets and attaches them,
// preserving the order of sets.
func (s *PostgresStore) loadPolicies(ctx context.Context, sets []types.StoredPolicySet) ([]types.StoredPolicySet, error) {
	if len(sets) == 0 {
		return sets, nil
	}

	ids := make([]uuid.UUID, 0, len(sets))
	index := make(map[uuid.UUID]int, len(sets))
	for i, ps := range sets {
		ids = append(ids, ps.ID)
		index[ps.ID] = i
	}

	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM policies WHERE policy_set_id = ANY($1)`, policyColumns), ids)
	if err != nil {
		return nil, oops.With("operation", "load policies").Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, setID, err := scanPolicy(rows)
		if err != nil {
			return nil, oops.With("operation", "load policies").Wrap(err)
		}
		i, ok := index[setID]
		if !ok {
			continue
		}
		sets[i].Policies = append(sets[i].Policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate policies").Wrap(err)
	}
	return sets, nil
}

// scanPolicySets scans set rows without their policies.
func scanPolicySets(rows pgx.Rows) ([]types.StoredPolicySet, error) {
	defer rows.Close()
	var sets []types.StoredPolicySet
	for rows.Next() {
		var ps types.StoredPolicySet
		err := rows.Scan(&ps.ID, &ps.PolicyIssuer, &ps.AccessSubject,
			&ps.Licenses, &ps.MaxDelegationDepth, &ps.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning policy set row: %w", err)
		}
		sets = append(sets, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy set rows: %w", err)
	}
	return sets, nil
}

// FindPolicySets returns sets matching the filter, newest first, with their
// policies, plus the total count under the same filter without pagination.
func (s *PostgresStore) FindPolicySets(ctx context.Context, f Filter) ([]types.StoredPolicySet, int, error) {
	var where []string
	var args []any
	argIdx := 1

	if f.AccessSubject != nil {
		where = append(where, fmt.Sprintf(`access_subject ILIKE $%d ESCAPE '\'`, argIdx))
		args = append(args, "%"+escapeLike(*f.AccessSubject)+"%")
		argIdx++
	}
	if f.PolicyIssuer != nil {
		where = append(where, fmt.Sprintf(`policy_issuer ILIKE $%d ESCAPE '\'`, argIdx))
		args = append(args, "%"+escapeLike(*f.PolicyIssuer)+"%")
		argIdx++
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM policy_sets`+clause, args...).Scan(&total)
	if err != nil {
		return nil, 0, oops.With("operation", "count policy sets").Wrap(err)
	}

	query := fmt.Sprintf(`SELECT %s FROM policy_sets%s ORDER BY created_at DESC`, policySetColumns, clause)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Skip)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, oops.With("operation", "find policy sets").Wrap(err)
	}
	sets, err := scanPolicySets(rows)
	if err != nil {
		return nil, 0, oops.With("operation", "find policy sets").Wrap(err)
	}
	sets, err = s.loadPolicies(ctx, sets)
	if err != nil {
		return nil, 0, err
	}
	return sets, total, nil
}

// FindOwnPolicySets matches the EORI against either party column.
func (s *PostgresStore) FindOwnPolicySets(ctx context.Context, eori string) ([]types.StoredPolicySet, error) {
	pattern := "%" + escapeLike(eori) + "%"
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM policy_sets WHERE access_subject ILIKE $1 ESCAPE '\' OR policy_issuer ILIKE $1 ESCAPE '\' ORDER BY created_at DESC`,
		policySetColumns), pattern)
	if err != nil {
		return nil, oops.With("operation", "find own policy sets").With("eori", eori).Wrap(err)
	}
	sets, err := scanPolicySets(rows)
	if err != nil {
		return nil, oops.With("operation", "find own policy sets").Wrap(err)
	}
	return s.loadPolicies(ctx, sets)
}

// FindForEvaluation narrows candidates with exact equality on both parties,
// as the matching engine requires.
func (s *PostgresStore) FindForEvaluation(ctx context.Context, policyIssuer, accessSubject string) ([]types.StoredPolicySet, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM policy_sets WHERE policy_issuer = $1 AND access_subject = $2 ORDER BY created_at DESC`,
		policySetColumns), policyIssuer, accessSubject)
	if err != nil {
		return nil, oops.With("operation", "find for evaluation").Wrap(err)
	}
	sets, err := scanPolicySets(rows)
	if err != nil {
		return nil, oops.With("operation", "find for evaluation").Wrap(err)
	}
	return s.loadPolicies(ctx, sets)
}

// GetPolicySet retrieves one set with its policies.
func (s *PostgresStore) GetPolicySet(ctx context.Context, id uuid.UUID) (*types.StoredPolicySet, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM policy_sets WHERE id = $1`, policySetColumns), id)
	var ps types.StoredPolicySet
	err := row.Scan(&ps.ID, &ps.PolicyIssuer, &ps.AccessSubject,
		&ps.Licenses, &ps.MaxDelegationDepth, &ps.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(CodePolicySetNotFound).With("id", id.String()).Errorf("policy set not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get policy set").With("id", id.String()).Wrap(err)
	}
	sets, err := s.loadPolicies(ctx, []types.StoredPolicySet{ps})
	if err != nil {
		return nil, err
	}
	return &sets[0], nil
}

// GetPolicy retrieves one policy of a set.
func (s *PostgresStore) GetPolicy(ctx context.Context, policySetID, policyID uuid.UUID) (*types.StoredPolicy, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM policies WHERE policy_set_id = $1 AND id = $2`, policyColumns),
		policySetID, policyID)
	p, _, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(CodePolicyNotFound).
			With("policy_set_id", policySetID.String()).
			With("policy_id", policyID.String()).
			Errorf("policy not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get policy").With("policy_id", policyID.String()).Wrap(err)
	}
	return p, nil
}

// AddPolicy appends a policy to an existing set.
func (s *PostgresStore) AddPolicy(ctx context.Context, policySetID uuid.UUID, p types.Policy) (*types.StoredPolicy, error) {
	sp := types.StoredPolicyFromWire(p)
	sp.ID = uuid.New()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, oops.Code("POLICY_CREATE_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := insertPolicy(ctx, tx, policySetID, sp.ID, sp); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("POLICY_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return &sp, nil
}

// ReplacePolicy swaps the content of an existing policy in place, keeping
// its ID.
func (s *PostgresStore) ReplacePolicy(ctx context.Context, policySetID, policyID uuid.UUID, p types.Policy) (*types.StoredPolicy, error) {
	sp := types.StoredPolicyFromWire(p)
	sp.ID = policyID

	rulesJSON, err := json.Marshal(sp.Rules)
	if err != nil {
		return nil, oops.Code("POLICY_REPLACE_FAILED").With("operation", "marshal rules").Wrap(err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE policies
		SET resource_type = $3, identifiers = $4, attributes = $5, actions = $6, service_providers = $7, rules = $8
		WHERE policy_set_id = $1 AND id = $2
	`, policySetID, policyID, sp.ResourceType, sp.Identifiers, sp.Attributes, sp.Actions, sp.ServiceProviders, rulesJSON)
	if err != nil {
		return nil, oops.Code("POLICY_REPLACE_FAILED").With("policy_id", policyID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, oops.Code(CodePolicyNotFound).
			With("policy_set_id", policySetID.String()).
			With("policy_id", policyID.String()).
			Errorf("policy not found")
	}
	return &sp, nil
}

// DeletePolicy removes one policy from a set.
func (s *PostgresStore) DeletePolicy(ctx context.Context, policySetID, policyID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM policies WHERE policy_set_id = $1 AND id = $2`, policySetID, policyID)
	if err != nil {
		return oops.Code("POLICY_DELETE_FAILED").With("policy_id", policyID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(CodePolicyNotFound).
			With("policy_set_id", policySetID.String()).
			With("policy_id", policyID.String()).
			Errorf("policy not found")
	}
	return nil
}

// DeletePolicySet removes the policies then the set inside one transaction.
func (s *PostgresStore) DeletePolicySet(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return oops.Code("POLICY_SET_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `DELETE FROM policies WHERE policy_set_id = $1`, id)
	if err != nil {
		return oops.Code("POLICY_SET_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM policy_sets WHERE id = $1`, id)
	if err != nil {
		return oops.Code("POLICY_SET_DELETE_FAILED").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(CodePolicySetNotFound).With("id", id.String()).Errorf("policy set not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("POLICY_SET_DELETE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}
