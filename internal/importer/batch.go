package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChunkSize is the number of records per commit transaction.
const DefaultChunkSize = 1000

// DefaultChunkTimeout bounds one chunk transaction.
const DefaultChunkTimeout = 30 * time.Second

// plan is the outcome of partitioning: what to create, what to update.
// failed holds rows whose keys point at more than one existing record.
type plan struct {
	creates []*Candidate
	updates []*Candidate
	failed  []ImportError
}

// naturalKeys gathers the distinct lookup tokens of all candidates.
func naturalKeys(cands []*Candidate) []string {
	seen := make(map[string]struct{}, len(cands))
	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		for _, k := range c.LookupKeys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// partition classifies candidates against the existing-record index.
//
// A candidate sharing a lookup token with an earlier row, or matching the
// same existing record as an earlier row, is skipped: writing both would
// either collide on a unique key or overwrite the earlier row's values.
// A candidate whose keys match two different existing records fails: an
// update of either would collide with the other on a unique key.
// Update candidates take the existing id; creates get a fresh one.
func partition(cands []*Candidate, existing ExistingIndex, warn func(string)) (p plan, skipped int) {
	seenKey := make(map[string]int, len(cands))
	seenID := make(map[uuid.UUID]int)

	for _, c := range cands {
		if first, dup := firstSeen(seenKey, c.LookupKeys); dup {
			warn(fmt.Sprintf("row %d: duplicate of row %d in this file; skipped", c.Row, first))
			skipped++
			continue
		}

		id, exists, conflict := existing.MatchOne(c.LookupKeys)
		if conflict != "" {
			p.failed = append(p.failed, keyConflict(c, conflict))
			continue
		}
		if exists {
			if first, dup := seenID[id]; dup {
				warn(fmt.Sprintf("row %d: matches the same existing record as row %d; skipped", c.Row, first))
				skipped++
				continue
			}
			seenID[id] = c.Row
		}

		for _, k := range c.LookupKeys {
			seenKey[k] = c.Row
		}

		if exists {
			c.ID = id
			p.updates = append(p.updates, c)
		} else {
			c.ID = uuid.New()
			p.creates = append(p.creates, c)
		}
	}
	return p, skipped
}

func keyConflict(c *Candidate, key string) ImportError {
	kind, value, _ := SplitKey(key)
	msg := fmt.Sprintf("%s belongs to a different existing record than the row's other keys", kind)
	return ImportError{Row: c.Row, Field: kind, Value: value, Message: msg, Code: MapError(errors.New(msg)).Code}
}

func firstSeen(seen map[string]int, keys []string) (int, bool) {
	for _, k := range keys {
		if row, ok := seen[k]; ok {
			return row, true
		}
	}
	return 0, false
}

// chunk splits cands into consecutive slices of at most size records.
func chunk(cands []*Candidate, size int) [][]*Candidate {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]*Candidate
	for start := 0; start < len(cands); start += size {
		end := min(start+size, len(cands))
		out = append(out, cands[start:end])
	}
	return out
}

// commitStrategy executes one chunk. Real runs write; dry runs count.
type commitStrategy interface {
	// create returns the number of records inserted. Records the store
	// skipped as duplicates are the difference to len(records).
	create(ctx context.Context, entity Entity, records []*Candidate) (int, error)
	update(ctx context.Context, entity Entity, records []*Candidate) (int, error)
}

// simulator is the dry-run strategy. It never touches storage.
type simulator struct{}

func (simulator) create(_ context.Context, _ Entity, records []*Candidate) (int, error) {
	return len(records), nil
}

func (simulator) update(_ context.Context, _ Entity, records []*Candidate) (int, error) {
	return len(records), nil
}

// committer writes each chunk in its own bounded transaction.
type committer struct {
	store   Persistence
	timeout time.Duration
}

func (c committer) create(ctx context.Context, entity Entity, records []*Candidate) (int, error) {
	var inserted int
	err := c.store.InTx(ctx, c.timeout, func(ctx context.Context, w Writer) error {
		n, err := w.InsertSkipDuplicates(ctx, entity, records)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (c committer) update(ctx context.Context, entity Entity, records []*Candidate) (int, error) {
	err := c.store.InTx(ctx, c.timeout, func(ctx context.Context, w Writer) error {
		for _, r := range records {
			if err := w.Update(ctx, entity, r); err != nil {
				return fmt.Errorf("row %d: %w", r.Row, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// batchEngine commits a partitioned plan chunk by chunk. Chunks run
// sequentially so aggregate counts are deterministic.
type batchEngine struct {
	entity    Entity
	chunkSize int
	strategy  commitStrategy
	tracer    trace.Tracer
	dryRun    bool
}

// run commits p and adds the outcome to res. A failing chunk is recorded as
// one row -1 error and its records count as failed; later chunks still run.
func (e *batchEngine) run(ctx context.Context, p plan, res *Result) {
	e.runKind(ctx, "create", p.creates, res)
	e.runKind(ctx, "update", p.updates, res)
}

func (e *batchEngine) runKind(ctx context.Context, kind string, records []*Candidate, res *Result) {
	chunks := chunk(records, e.chunkSize)
	for i, ch := range chunks {
		n, err := e.commitChunk(ctx, kind, i+1, len(chunks), ch)
		if err != nil {
			res.Summary.Failed += len(ch)
			res.Errors = append(res.Errors, chunkError(kind, i+1, ch, err))
			continue
		}

		switch kind {
		case "create":
			res.Summary.Created += n
			if dup := len(ch) - n; dup > 0 {
				res.Summary.Skipped += dup
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"create chunk %d: %d record(s) already existed and were skipped", i+1, dup))
			}
		case "update":
			res.Summary.Updated += n
		}
	}
}

func (e *batchEngine) commitChunk(ctx context.Context, kind string, n, total int, ch []*Candidate) (int, error) {
	ctx, span := e.tracer.Start(ctx, "importer.chunk", trace.WithAttributes(
		attribute.String("entity", string(e.entity)),
		attribute.String("kind", kind),
		attribute.Int("chunk", n),
		attribute.Int("chunks", total),
		attribute.Int("records", len(ch)),
		attribute.Bool("dry_run", e.dryRun),
	))
	defer span.End()

	start := time.Now()
	var (
		count int
		err   error
	)
	switch kind {
	case "create":
		count, err = e.strategy.create(ctx, e.entity, ch)
	default:
		count, err = e.strategy.update(ctx, e.entity, ch)
	}
	observeChunk(e.entity, kind, e.dryRun, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk failed")
	}
	return count, err
}

// chunkError describes a failed chunk as a single non-row error.
func chunkError(kind string, n int, ch []*Candidate, err error) ImportError {
	first, last := ch[0].Row, ch[0].Row
	for _, c := range ch {
		first = min(first, c.Row)
		last = max(last, c.Row)
	}
	msg := MapError(err)
	return ImportError{
		Row: -1,
		Message: fmt.Sprintf("%s chunk %d (rows %d-%d, %d records) failed: %s. %s",
			kind, n, first, last, len(ch), msg.Message, msg.Action),
		Code: msg.Code,
	}
}
