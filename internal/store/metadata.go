package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

const pipelineSQL = `
SELECT p.id, p.name, s.id, s.name, s.sort_order, s.is_default
FROM pipelines p
LEFT JOIN stages s ON s.pipeline_id = p.id
WHERE p.id = $1
ORDER BY s.sort_order, s.name`

// Pipeline implements importer.Metadata.
func (s *Store) Pipeline(ctx context.Context, id uuid.UUID) (*importer.Pipeline, error) {
	rows, err := s.pool.Query(ctx, pipelineSQL, id)
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}

	var p *importer.Pipeline
	err = forEachRow(rows, func(r pgx.Rows) error {
		var (
			pid       pgtype.UUID
			pname     string
			sid       pgtype.UUID
			sname     pgtype.Text
			order     pgtype.Int4
			isDefault pgtype.Bool
		)
		if err := r.Scan(&pid, &pname, &sid, &sname, &order, &isDefault); err != nil {
			return err
		}
		if p == nil {
			p = &importer.Pipeline{ID: fromPgUUID(pid), Name: pname}
		}
		if sid.Valid {
			p.Stages = append(p.Stages, importer.Stage{
				ID:        fromPgUUID(sid),
				Name:      sname.String,
				Order:     int(order.Int32),
				IsDefault: isDefault.Bool,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pipeline: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", importer.ErrPipelineNotFound, id)
	}
	return p, nil
}

// ActiveUsers implements importer.Metadata.
func (s *Store) ActiveUsers(ctx context.Context) ([]importer.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, full_name FROM users WHERE active ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	var users []importer.User
	err = forEachRow(rows, func(r pgx.Rows) error {
		var (
			id pgtype.UUID
			u  importer.User
		)
		if err := r.Scan(&id, &u.Email, &u.FullName); err != nil {
			return err
		}
		u.ID = fromPgUUID(id)
		users = append(users, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

// A concurrent insert of the same name waits on the unique index and then
// takes the DO UPDATE branch, which returns the winner's id.
const createStageSQL = `
INSERT INTO stages (id, pipeline_id, name, sort_order)
VALUES ($1, $2, $3, $4)
ON CONFLICT (pipeline_id, (lower(name))) DO UPDATE SET name = stages.name
RETURNING id`

// Retry settings for CreateStage.
const (
	stageRetryMax      = 4
	stageRetryInterval = 50 * time.Millisecond
)

// CreateStage implements importer.Metadata. Serialization failures and
// deadlocks are retried with exponential backoff.
func (s *Store) CreateStage(ctx context.Context, pipelineID uuid.UUID, name string, order int) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, errors.New("create stage: empty name")
	}

	var id pgtype.UUID
	op := func() error {
		err := s.pool.QueryRow(ctx, createStageSQL, uuid.New(), pipelineID, name, order).Scan(&id)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = stageRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, stageRetryMax), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return uuid.Nil, fmt.Errorf("create stage %q: %w", name, err)
	}
	return fromPgUUID(id), nil
}

// retryable reports whether err is a transient PostgreSQL conflict.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}
