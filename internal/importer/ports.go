package importer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrPipelineNotFound is returned by Metadata.Pipeline for an unknown id.
var ErrPipelineNotFound = errors.New("pipeline not found")

// Normalizer canonicalizes contact data. Implementations must be pure.
type Normalizer interface {
	// Email returns the canonical form of an address or an error when it is
	// not a valid address.
	Email(raw string) (string, error)

	// Phone returns the number in E.164 form.
	Phone(raw string) (string, error)

	// SocialLinks canonicalizes a network → handle/URL group. Networks that
	// fail are left out of links and reported in errs.
	SocialLinks(group map[string]string) (links map[string]string, errs map[string]error)
}

// Persistence is the storage boundary used by the batch engine.
type Persistence interface {
	// LookupExisting resolves natural-key tokens of entity to record ids in
	// one round trip. Tokens with no record are absent from the index.
	LookupExisting(ctx context.Context, entity Entity, keys []string) (ExistingIndex, error)

	// InTx runs fn in a transaction bounded by timeout. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, w Writer) error) error
}

// Writer performs the mutating calls inside an InTx transaction.
type Writer interface {
	// InsertSkipDuplicates inserts records, silently skipping any that
	// collide with an existing unique key. It returns the number inserted.
	InsertSkipDuplicates(ctx context.Context, entity Entity, records []*Candidate) (int, error)

	// Update overwrites the record identified by c.ID with the non-empty
	// fields of c.
	Update(ctx context.Context, entity Entity, c *Candidate) error
}

// Metadata supplies read-only reference data and stage creation.
type Metadata interface {
	Pipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error)
	ActiveUsers(ctx context.Context) ([]User, error)

	// CreateStage creates a stage, or returns the id of an existing stage
	// with the same case-insensitive name in the pipeline.
	CreateStage(ctx context.Context, pipelineID uuid.UUID, name string, order int) (uuid.UUID, error)
}

// Locker serializes work on a key across importers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
