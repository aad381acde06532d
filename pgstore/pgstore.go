// Package pgstore provides a PostgreSQL-backed implementation of both
// [reputation.Store] and [whitelist.Service], built on pgx.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jub0bs/corsguard/reputation"
	"github.com/jub0bs/corsguard/whitelist"
)

// Schema creates the tables that a [Store] relies on.
const Schema = `
CREATE TABLE IF NOT EXISTS cors_whitelist (
	environment TEXT        NOT NULL,
	domain      TEXT        NOT NULL,
	active      BOOLEAN     NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (environment, domain)
);

CREATE TABLE IF NOT EXISTS cors_reputation (
	id             UUID        PRIMARY KEY,
	origin         TEXT        NOT NULL,
	allowed        BOOLEAN     NOT NULL,
	reason         TEXT        NOT NULL,
	score          INTEGER     NOT NULL,
	warnings       TEXT[]      NOT NULL DEFAULT '{}',
	user_agent     TEXT        NOT NULL DEFAULT '',
	client_address TEXT        NOT NULL DEFAULT '',
	environment    TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS cors_reputation_origin_created_at
	ON cors_reputation (origin, created_at);
`

const (
	insertDecision = `INSERT INTO cors_reputation
	(id, origin, allowed, reason, score, warnings, user_agent, client_address, environment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	selectReputation = `SELECT count(*), count(*) FILTER (WHERE allowed)
FROM cors_reputation
WHERE origin = $1 AND created_at >= $2`

	selectActiveDomains = `SELECT domain
FROM cors_whitelist
WHERE environment = $1 AND active = true
ORDER BY domain`

	deleteDecisionsBefore = `DELETE FROM cors_reputation WHERE created_at < $1`
)

// A Querier is the subset of the methods of [*pgxpool.Pool] and [*pgx.Conn]
// that a Store needs.
//
// [*pgxpool.Pool]: https://pkg.go.dev/github.com/jackc/pgx/v5/pgxpool#Pool
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// A Store is safe for concurrent use by multiple goroutines
// if its Querier is.
type Store struct {
	db  Querier
	now func() time.Time
}

var (
	_ reputation.Pruner = (*Store)(nil)
	_ whitelist.Service = (*Store)(nil)
)

// New returns a Store that uses db.
func New(db Querier) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables that s relies on, if they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrating: %w", err)
	}
	return nil
}

// RecordDecision implements [reputation.Store].
func (s *Store) RecordDecision(ctx context.Context, rec reputation.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	warnings := rec.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	_, err := s.db.Exec(ctx, insertDecision,
		rec.ID,
		rec.Origin,
		rec.Allowed,
		rec.Reason,
		rec.Score,
		warnings,
		rec.UserAgent,
		rec.ClientAddress,
		rec.Environment,
		rec.At,
	)
	if err != nil {
		return fmt.Errorf("pgstore: recording decision: %w", err)
	}
	return nil
}

// Reputation implements [reputation.Store].
func (s *Store) Reputation(ctx context.Context, origin string, lookback time.Duration) (reputation.Reputation, error) {
	var total, allowed int64
	since := s.now().Add(-lookback)
	err := s.db.QueryRow(ctx, selectReputation, origin, since).Scan(&total, &allowed)
	if err != nil {
		return reputation.Reputation{}, fmt.Errorf("pgstore: fetching reputation: %w", err)
	}
	return reputation.Compute(int(allowed), int(total)), nil
}

// ActiveDomains implements [whitelist.Service].
// The result is sorted in lexicographical order.
func (s *Store) ActiveDomains(ctx context.Context, environment string) ([]string, error) {
	rows, err := s.db.Query(ctx, selectActiveDomains, environment)
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching whitelist: %w", err)
	}
	domains, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgstore: fetching whitelist: %w", err)
	}
	return domains, nil
}

// Prune deletes the decisions older than retention
// and returns the number of deleted decisions.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteDecisionsBefore, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pgstore: pruning decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}
