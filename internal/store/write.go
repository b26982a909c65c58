package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// ErrRecordGone is returned by Update when the target row no longer exists.
var ErrRecordGone = errors.New("record no longer exists")

// txWriter implements importer.Writer inside one InTx transaction.
type txWriter struct {
	tx pgx.Tx
}

var contactColumns = []string{
	"id", "full_name", "email", "phone", "company", "position",
	"tags", "directions", "contact_methods", "social_links",
	"birthday", "notes", "source", "assignee_id", "created_by",
}

var dealColumns = []string{
	"id", "number", "title", "amount", "currency", "pipeline_id", "stage_id",
	"contact_id", "assignee_id", "tags", "rejection_reasons",
	"expected_close", "description", "created_by",
}

type tableSpec struct {
	table   string
	staging string
	columns []string
	row     func(*importer.Candidate) []any
}

func specFor(entity importer.Entity) (tableSpec, error) {
	switch entity {
	case importer.EntityContacts:
		return tableSpec{"contacts", "import_contacts", contactColumns, contactRow}, nil
	case importer.EntityDeals:
		return tableSpec{"deals", "import_deals", dealColumns, dealRow}, nil
	default:
		return tableSpec{}, fmt.Errorf("%w: %q", importer.ErrUnknownEntity, entity)
	}
}

// InsertSkipDuplicates copies records into a staging table and moves them
// into the target table, skipping rows that violate a unique key.
func (w *txWriter) InsertSkipDuplicates(ctx context.Context, entity importer.Entity, records []*importer.Candidate) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	spec, err := specFor(entity)
	if err != nil {
		return 0, err
	}

	stage := fmt.Sprintf(
		"CREATE TEMP TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		spec.staging, spec.table)
	if _, err := w.tx.Exec(ctx, stage); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}
	if _, err := w.tx.Exec(ctx, "TRUNCATE "+spec.staging); err != nil {
		return 0, fmt.Errorf("truncate staging table: %w", err)
	}

	_, err = w.tx.CopyFrom(ctx,
		pgx.Identifier{spec.staging},
		spec.columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return spec.row(records[i]), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", spec.table, err)
	}

	cols := strings.Join(spec.columns, ", ")
	move := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		spec.table, cols, cols, spec.staging)
	tag, err := w.tx.Exec(ctx, move)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", spec.table, err)
	}
	return int(tag.RowsAffected()), nil
}

func contactRow(c *importer.Candidate) []any {
	f := c.Contact
	return []any{
		toPgUUID(&c.ID),
		toPgText(f.FullName),
		toPgText(f.Email),
		toPgText(f.Phone),
		toPgText(f.Company),
		toPgText(f.Position),
		textArray(f.Tags),
		textArray(f.Directions),
		textArray(f.ContactMethods),
		jsonObject(f.SocialLinks),
		toPgDate(f.Birthday),
		toPgText(f.Notes),
		toPgText(f.Source),
		toPgUUID(f.AssigneeID),
		toPgUUID(&c.CreatedBy),
	}
}

func dealRow(c *importer.Candidate) []any {
	f := c.Deal
	return []any{
		toPgUUID(&c.ID),
		toPgText(f.Number),
		toPgText(f.Title),
		toPgNumeric(f.Amount),
		toPgText(f.Currency),
		toPgUUID(&f.PipelineID),
		toPgUUID(f.StageID),
		toPgUUID(f.ContactID),
		toPgUUID(f.AssigneeID),
		textArray(f.Tags),
		textArray(f.RejectionReasons),
		toPgDate(f.ExpectedClose),
		toPgText(f.Description),
		toPgUUID(&c.CreatedBy),
	}
}

// Empty values are sent as NULL or empty arrays and keep the stored value.
const updateContactSQL = `
UPDATE contacts SET
    full_name       = COALESCE($2, full_name),
    email           = COALESCE($3, email),
    phone           = COALESCE($4, phone),
    company         = COALESCE($5, company),
    position        = COALESCE($6, position),
    tags            = CASE WHEN cardinality($7::text[]) > 0 THEN $7::text[] ELSE tags END,
    directions      = CASE WHEN cardinality($8::text[]) > 0 THEN $8::text[] ELSE directions END,
    contact_methods = CASE WHEN cardinality($9::text[]) > 0 THEN $9::text[] ELSE contact_methods END,
    social_links    = social_links || $10::jsonb,
    birthday        = COALESCE($11, birthday),
    notes           = COALESCE($12, notes),
    source          = COALESCE($13, source),
    assignee_id     = COALESCE($14, assignee_id),
    updated_at      = now()
WHERE id = $1`

const updateDealSQL = `
UPDATE deals SET
    title             = COALESCE($2, title),
    amount            = COALESCE($3, amount),
    currency          = COALESCE($4, currency),
    pipeline_id       = $5,
    stage_id          = COALESCE($6, stage_id),
    contact_id        = COALESCE($7, contact_id),
    assignee_id       = COALESCE($8, assignee_id),
    tags              = CASE WHEN cardinality($9::text[]) > 0 THEN $9::text[] ELSE tags END,
    rejection_reasons = CASE WHEN cardinality($10::text[]) > 0 THEN $10::text[] ELSE rejection_reasons END,
    expected_close    = COALESCE($11, expected_close),
    description       = COALESCE($12, description),
    updated_at        = now()
WHERE id = $1`

// Update implements importer.Writer.
func (w *txWriter) Update(ctx context.Context, entity importer.Entity, c *importer.Candidate) error {
	var (
		sql  string
		args []any
	)
	switch entity {
	case importer.EntityContacts:
		sql, args = updateContactSQL, contactUpdateArgs(c)
	case importer.EntityDeals:
		sql, args = updateDealSQL, dealUpdateArgs(c)
	default:
		return fmt.Errorf("%w: %q", importer.ErrUnknownEntity, entity)
	}

	tag, err := w.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", entity, c.Row, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s row %d: %w", entity, c.Row, ErrRecordGone)
	}
	return nil
}

func contactUpdateArgs(c *importer.Candidate) []any {
	f := c.Contact
	return []any{
		toPgUUID(&c.ID),
		toPgText(f.FullName),
		toPgText(f.Email),
		toPgText(f.Phone),
		toPgText(f.Company),
		toPgText(f.Position),
		textArray(f.Tags),
		textArray(f.Directions),
		textArray(f.ContactMethods),
		jsonObject(f.SocialLinks),
		toPgDate(f.Birthday),
		toPgText(f.Notes),
		toPgText(f.Source),
		toPgUUID(f.AssigneeID),
	}
}

func dealUpdateArgs(c *importer.Candidate) []any {
	f := c.Deal
	return []any{
		toPgUUID(&c.ID),
		toPgText(f.Title),
		toPgNumeric(f.Amount),
		toPgText(f.Currency),
		toPgUUID(&f.PipelineID),
		toPgUUID(f.StageID),
		toPgUUID(f.ContactID),
		toPgUUID(f.AssigneeID),
		textArray(f.Tags),
		textArray(f.RejectionReasons),
		toPgDate(f.ExpectedClose),
		toPgText(f.Description),
	}
}
