package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/crmimport/internal/logging"
)

// ErrTooManyRows aborts an import whose source exceeds Options.MaxRows.
var ErrTooManyRows = errors.New("too many rows")

// DefaultMaxRows is the row ceiling used when Options.MaxRows is zero.
const DefaultMaxRows = 50000

const tracerName = "github.com/JonMunkholm/crmimport/internal/importer"

// Options tunes a Service. Zero values fall back to the defaults.
type Options struct {
	ChunkSize    int
	ChunkTimeout time.Duration
	MaxRows      int

	// Locker serializes real deal imports per pipeline. nil disables it.
	Locker Locker

	// Limiter bounds concurrent imports. nil disables it.
	Limiter *ImportLimiter
}

// Service runs imports against a store.
type Service struct {
	store  Persistence
	meta   Metadata
	norm   Normalizer
	opts   Options
	tracer trace.Tracer
}

// NewService creates a Service.
func NewService(store Persistence, meta Metadata, norm Normalizer, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = DefaultChunkTimeout
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	return &Service{
		store:  store,
		meta:   meta,
		norm:   norm,
		opts:   opts,
		tracer: otel.Tracer(tracerName),
	}
}

// Limiter returns the configured import limiter, or nil.
func (s *Service) Limiter() *ImportLimiter {
	return s.opts.Limiter
}

// references holds the lookup indexes loaded once per import.
type references struct {
	stages *StageIndex
	owners *OwnerIndex
}

// Import runs one import of src according to req.
//
// Row and chunk problems never produce an error; they are reported in the
// Result. A non-nil error is returned only when a real run cannot read its
// reference data or acquire its slot or lock. In a dry run the same
// failures are reported as fatal ImportErrors so a preview is still
// produced. Dry runs never take the lock.
func (s *Service) Import(ctx context.Context, req Request, src RowSource) (*Result, error) {
	res := &Result{
		ImportID: uuid.NewString(),
		DryRun:   req.DryRun,
		Errors:   []ImportError{},
	}
	ctx = logging.WithImportID(ctx, res.ImportID)
	ctx, span := s.tracer.Start(ctx, "importer.Import", trace.WithAttributes(
		attribute.String("import_id", res.ImportID),
		attribute.String("entity", string(req.Entity)),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	log := logging.WithFields(ctx, "entity", req.Entity, "dry_run", req.DryRun)
	start := time.Now()
	log.Info("import started", "mapped_fields", len(req.Mapping))

	if l := s.opts.Limiter; l != nil {
		if err := l.Acquire(ctx); err != nil {
			if req.DryRun {
				observeImport(req.Entity, req.DryRun, "fatal", Summary{})
				log.Warn("import aborted", "error", err)
				return res.abort(ImportError{Row: -1, Message: FormatUserError(err), Code: MapError(err).Code}), nil
			}
			observeImport(req.Entity, req.DryRun, "error", Summary{})
			return nil, err
		}
		defer l.Release()
	}

	out, err := s.run(ctx, req, src, res)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeImport(req.Entity, req.DryRun, "error", Summary{})
		log.Error("import failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	case out.Fatal():
		span.SetStatus(codes.Error, "fatal precondition")
		observeImport(req.Entity, req.DryRun, "fatal", out.Summary)
		log.Warn("import aborted", "errors", len(out.Errors), "first_error", out.Errors[0].Message)
	default:
		observeImport(req.Entity, req.DryRun, "ok", out.Summary)
		log.Info("import completed",
			"total", out.Summary.Total,
			"created", out.Summary.Created,
			"updated", out.Summary.Updated,
			"failed", out.Summary.Failed,
			"skipped", out.Summary.Skipped,
			"errors", len(out.Errors),
			"warnings", len(out.Warnings),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	span.SetAttributes(
		attribute.Int("summary.total", out.Summary.Total),
		attribute.Int("summary.created", out.Summary.Created),
		attribute.Int("summary.updated", out.Summary.Updated),
		attribute.Int("summary.failed", out.Summary.Failed),
	)
	return out, nil
}

func (s *Service) run(ctx context.Context, req Request, src RowSource, res *Result) (*Result, error) {
	warn := func(msg string) { res.Warnings = append(res.Warnings, msg) }

	// 1. Preconditions
	if fatal := s.checkPreconditions(req, src, res); len(fatal) > 0 {
		return res.abort(fatal...), nil
	}

	// 2. Serialize real deal imports on the target pipeline
	if req.Entity == EntityDeals && !req.DryRun && s.opts.Locker != nil {
		unlock, err := s.opts.Locker.Lock(ctx, "crmimport:pipeline:"+req.PipelineID.String())
		if err != nil {
			return nil, fmt.Errorf("lock pipeline %s: %w", req.PipelineID, err)
		}
		defer unlock()
	}

	// 3. Reference indexes, loaded once
	refs, err := s.loadReferences(ctx, req)
	if err != nil {
		if errors.Is(err, ErrPipelineNotFound) {
			return res.abort(ImportError{Row: -1, Field: "pipeline", Value: req.PipelineID.String(), Message: "pipeline not found"}), nil
		}
		if !req.DryRun {
			return nil, fmt.Errorf("load reference data: %w", err)
		}
		return res.abort(ImportError{Row: -1, Message: "could not load reference data: " + FormatUserError(err)}), nil
	}
	if req.ActorID != uuid.Nil && !refs.owners.Active(req.ActorID) {
		msg := fmt.Sprintf("actor %s is not an active user", req.ActorID)
		if !req.DryRun {
			return res.abort(ImportError{Row: -1, Field: "actor", Value: req.ActorID.String(), Message: msg, Code: MapError(errors.New(msg)).Code}), nil
		}
		warn(msg + "; a real run will be rejected")
	}
	assignee := req.DefaultAssignee
	if assignee != nil && !refs.owners.Active(*assignee) {
		warn(fmt.Sprintf("default assignee %s is not an active user; rows without an owner stay unassigned", assignee))
		assignee = nil
	}

	// 4. Map and resolve every row
	resolver := NewResolver(refs.stages, refs.owners, assignee, warn)
	cands, err := s.mapRows(ctx, req, src, resolver, res)
	if err != nil {
		msg := "could not read source: " + err.Error()
		if errors.Is(err, ErrTooManyRows) {
			msg = fmt.Sprintf("too many rows: one import accepts at most %d", s.opts.MaxRows)
		}
		return res.abort(ImportError{Row: -1, Message: msg, Code: MapError(err).Code}), nil
	}

	if req.Entity == EntityDeals {
		if keys := contactLookupKeys(cands); len(keys) > 0 {
			contacts, err := s.store.LookupExisting(ctx, EntityContacts, keys)
			if err != nil {
				return s.lookupFailed(req, res, "related contacts", err)
			}
			resolver.ResolveContacts(cands, contacts)
		}
	}

	// 5. Partition against one bulk lookup
	var existing ExistingIndex
	if keys := naturalKeys(cands); len(keys) > 0 {
		existing, err = s.store.LookupExisting(ctx, req.Entity, keys)
		if err != nil {
			return s.lookupFailed(req, res, "existing records", err)
		}
	}
	p, skipped := partition(cands, existing, warn)
	res.Summary.Skipped += skipped
	res.Summary.Failed += len(p.failed)
	res.Errors = append(res.Errors, p.failed...)

	// 6. Pending stages
	if req.Entity == EntityDeals {
		planned := planStages(pendingStages(p), refs.stages.MaxOrder())
		var outcome *stageOutcome
		if req.DryRun {
			res.StagesToCreate = planned
		} else if len(planned) > 0 {
			o, created := s.createStages(ctx, req.PipelineID, planned)
			outcome = &o
			res.CreatedStages = created
			for name, err := range o.failed {
				logging.FromContext(ctx).Warn("stage creation failed", "stage", name, "error", err)
			}
		}
		p = applyStages(p, refs.stages, outcome, res)
	}

	// 7. Commit or simulate
	var strategy commitStrategy = simulator{}
	if !req.DryRun {
		strategy = committer{store: s.store, timeout: s.opts.ChunkTimeout}
	}
	engine := &batchEngine{
		entity:    req.Entity,
		chunkSize: s.opts.ChunkSize,
		strategy:  strategy,
		tracer:    s.tracer,
		dryRun:    req.DryRun,
	}
	engine.run(ctx, p, res)

	sort.SliceStable(res.Errors, func(i, j int) bool { return res.Errors[i].Row < res.Errors[j].Row })
	return res, nil
}

// lookupFailed handles a failed bulk lookup after rows were read. Real
// runs return the error; dry runs report it.
func (s *Service) lookupFailed(req Request, res *Result, what string, err error) (*Result, error) {
	if !req.DryRun {
		return nil, fmt.Errorf("look up %s: %w", what, err)
	}
	return res.abort(ImportError{Row: -1, Message: fmt.Sprintf("could not look up %s: %s", what, FormatUserError(err))}), nil
}

// checkPreconditions validates everything that can be known before the
// first row is read and returns all fatal problems at once.
func (s *Service) checkPreconditions(req Request, src RowSource, res *Result) []ImportError {
	var fatal []ImportError
	add := func(field, msg string) {
		fatal = append(fatal, ImportError{Row: -1, Field: field, Message: msg, Code: MapError(errors.New(msg)).Code})
	}

	switch req.Entity {
	case EntityContacts:
		if !req.Mapping.Has(FieldEmail) && !req.Mapping.Has(FieldPhone) {
			add(FieldEmail, "missing required mapping: email or phone must be mapped")
		}
	case EntityDeals:
		if !req.Mapping.Has(FieldTitle) {
			add(FieldTitle, "missing required mapping: title must be mapped")
		}
		if req.PipelineID == uuid.Nil {
			add("pipeline", "pipeline is required for deal imports")
		}
	default:
		add("entity", fmt.Sprintf("unsupported entity %q", req.Entity))
		return fatal
	}

	if req.ActorID == uuid.Nil {
		if req.DryRun {
			res.Warnings = append(res.Warnings, "no actor given; a real run will be rejected until one is provided")
		} else {
			add("actor", "actor is required to write records")
		}
	}

	if src == nil || src.Header() == nil {
		add("", "empty file: no header row")
		return fatal
	}

	header := src.Header()
	probe := header.Row(nil)
	required := map[string]bool{FieldEmail: true, FieldPhone: true, FieldTitle: true}
	for _, field := range req.Mapping.Fields() {
		b := req.Mapping[field]
		cols := []string{b.Column}
		if b.Kind == BindingGroup {
			cols = cols[:0]
			for _, sub := range sortedKeys(b.Group) {
				cols = append(cols, b.Group[sub])
			}
		}
		for _, col := range cols {
			if col == "" {
				continue
			}
			if _, ok := probe.Get(col); ok {
				continue
			}
			msg := fmt.Sprintf("column not found: %q (mapped to %s)", col, field)
			if required[field] && !s.requiredSatisfied(req, header, field) {
				add(field, "missing required mapping: "+msg)
			} else {
				res.Warnings = append(res.Warnings, msg+"; field ignored")
			}
		}
	}
	return fatal
}

// requiredSatisfied reports whether the entity's required mapping still
// holds without field, i.e. another discriminator column is present.
func (s *Service) requiredSatisfied(req Request, header *Header, field string) bool {
	if req.Entity != EntityContacts {
		return false
	}
	other := FieldPhone
	if field == FieldPhone {
		other = FieldEmail
	}
	col := req.Mapping.Column(other)
	if col == "" {
		return false
	}
	_, ok := header.Row(nil).Get(col)
	return ok
}

// loadReferences fetches the pipeline and the active users concurrently,
// one query each.
func (s *Service) loadReferences(ctx context.Context, req Request) (*references, error) {
	ctx, span := s.tracer.Start(ctx, "importer.loadReferences")
	defer span.End()

	var (
		pipeline *Pipeline
		users    []User
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.Entity == EntityDeals {
		g.Go(func() error {
			p, err := s.meta.Pipeline(gctx, req.PipelineID)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", req.PipelineID, err)
			}
			pipeline = p
			return nil
		})
	}
	g.Go(func() error {
		u, err := s.meta.ActiveUsers(gctx)
		if err != nil {
			return fmt.Errorf("active users: %w", err)
		}
		users = u
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	refs := &references{owners: NewOwnerIndex(users, s.norm)}
	if pipeline != nil {
		refs.stages = NewStageIndex(pipeline)
	}
	return refs, nil
}

// mapRows streams src through the mapper and resolver. Blank rows are
// skipped; rows failing a required check are counted as failed.
func (s *Service) mapRows(ctx context.Context, req Request, src RowSource, resolver *Resolver, res *Result) ([]*Candidate, error) {
	_, span := s.tracer.Start(ctx, "importer.mapRows")
	defer span.End()

	mapper := NewMapper(req.Entity, req.Mapping, s.norm)
	var cands []*Candidate
	var summary Summary

	err := src.Each(func(row RawRow, rowNum int) error {
		summary.Total++
		if summary.Total > s.opts.MaxRows {
			return ErrTooManyRows
		}
		if row.IsBlank() {
			summary.Skipped++
			return nil
		}
		c := mapper.MapRow(row, rowNum, &res.Errors)
		if c == nil {
			summary.Failed++
			return nil
		}
		c.CreatedBy = req.ActorID
		if c.Deal != nil {
			c.Deal.PipelineID = req.PipelineID
		}
		resolver.ResolveRow(c)
		cands = append(cands, c)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res.Summary = summary
	span.SetAttributes(attribute.Int("rows", summary.Total), attribute.Int("candidates", len(cands)))
	return cands, nil
}

// abort turns res into a fatal result: zeroed summary and only the given
// errors. Warnings gathered so far are kept.
func (r *Result) abort(errs ...ImportError) *Result {
	r.Summary = Summary{}
	r.Errors = append([]ImportError{}, errs...)
	r.StagesToCreate = nil
	r.CreatedStages = nil
	return r
}
