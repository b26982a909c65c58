// Package store is the PostgreSQL implementation of the importer's
// persistence and metadata boundaries, built on pgx.
//
// Bulk lookups use a single "= ANY($1)" query per entity. Creates are copied
// into a transaction-scoped temp table and moved with
// INSERT ... ON CONFLICT DO NOTHING, so duplicates are skipped by the
// database rather than failing the chunk.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements importer.Persistence and importer.Metadata.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ importer.Persistence = (*Store)(nil)
	_ importer.Metadata    = (*Store)(nil)
)

// rollbackTimeout bounds the rollback issued after a failed or timed-out
// transaction.
const rollbackTimeout = 5 * time.Second

// InTx runs fn in a transaction that must finish within timeout.
func (s *Store) InTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, w importer.Writer) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer rcancel()
		_ = tx.Rollback(rctx) // no-op after commit
	}()

	if err := fn(ctx, &txWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
