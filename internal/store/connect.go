// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

// Package store owns database connectivity and schema migrations.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// Connect opens a pgx connection pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DATABASE_UNREACHABLE").Wrapf(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_UNREACHABLE").Wrapf(err, "pinging database")
	}
	return pool, nil
}
