// Package admin provides administrative operations for the CRM database:
// seeding users and pipelines that imports reference, and clearing
// imported data.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/crmimport/internal/normalize"
)

// ResetTimeout is the maximum duration for reset operations.
const ResetTimeout = 30 * time.Second

// ErrNoStages is returned when a pipeline is created without stages.
var ErrNoStages = errors.New("pipeline needs at least one stage")

// Admin runs administrative statements against the pool.
type Admin struct {
	pool *pgxpool.Pool
	norm *normalize.Normalizer
}

// New creates an Admin.
func New(pool *pgxpool.Pool) *Admin {
	return &Admin{pool: pool, norm: normalize.New("")}
}

// AddUser creates an active user, or reactivates and renames an existing
// one with the same email.
func (a *Admin) AddUser(ctx context.Context, email, fullName string) (uuid.UUID, error) {
	email, err := a.norm.Email(email)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add user: %w", err)
	}

	var id uuid.UUID
	err = a.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)
		ON CONFLICT ((lower(email))) DO UPDATE
		SET full_name = EXCLUDED.full_name, active = TRUE
		RETURNING id`,
		uuid.New(), email, strings.TrimSpace(fullName),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add user %s: %w", email, err)
	}
	return id, nil
}

// AddPipeline creates a pipeline with stages in the given order. The first
// stage is marked as the default.
func (a *Admin) AddPipeline(ctx context.Context, name string, stages []string) (uuid.UUID, error) {
	stages = cleanNames(stages)
	if len(stages) == 0 {
		return uuid.Nil, ErrNoStages
	}

	pipelineID := uuid.New()
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO pipelines (id, name) VALUES ($1, $2)`,
			pipelineID, strings.TrimSpace(name),
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, s := range stages {
			batch.Queue(
				`INSERT INTO stages (id, pipeline_id, name, sort_order, is_default) VALUES ($1, $2, $3, $4, $5)`,
				uuid.New(), pipelineID, s, i+1, i == 0,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("add pipeline %q: %w", name, err)
	}
	return pipelineID, nil
}

// Reset deletes all deals and contacts. Users, pipelines and stages are kept.
// This is a destructive operation - use with caution.
func (a *Admin) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	if _, err := a.pool.Exec(ctx, `TRUNCATE deals, contacts`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// cleanNames trims names and drops blanks and case-insensitive repeats.
func cleanNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
