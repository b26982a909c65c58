package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Persistence and Metadata. Writes made inside
// InTx are applied only when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	contacts  map[uuid.UUID]ContactFields
	deals     map[uuid.UUID]DealFields
	pipelines map[uuid.UUID]*Pipeline
	users     []User

	txCount      int
	failTx       map[int]error // 1-based InTx call number → error
	lookupErr    error
	usersErr     error
	stageErr     error
	stageCreates int
}

// testActor is the active user every memStore starts with.
var testActor = uuid.MustParse("6f1c2b0e-8d3a-4c5e-9f7b-2a1d0c9e8b70")

func newMemStore() *memStore {
	return &memStore{
		contacts:  make(map[uuid.UUID]ContactFields),
		deals:     make(map[uuid.UUID]DealFields),
		pipelines: make(map[uuid.UUID]*Pipeline),
		users:     []User{{ID: testActor, Email: "importer@example.com", FullName: "Import Operator"}},
		failTx:    make(map[int]error),
	}
}

func (s *memStore) addPipeline(stages ...string) *Pipeline {
	p := &Pipeline{ID: uuid.New(), Name: "Sales"}
	for i, name := range stages {
		p.Stages = append(p.Stages, Stage{ID: uuid.New(), Name: name, Order: i + 1, IsDefault: i == 0})
	}
	s.pipelines[p.ID] = p
	return p
}

func (s *memStore) addContact(f ContactFields) uuid.UUID {
	id := uuid.New()
	s.contacts[id] = f
	return id
}

func contactTokens(f ContactFields) []string {
	var keys []string
	if f.Email != "" {
		keys = append(keys, EmailKey(f.Email))
	}
	if f.Phone != "" {
		keys = append(keys, PhoneKey(f.Phone))
	}
	return keys
}

func (s *memStore) index(entity Entity) ExistingIndex {
	idx := make(ExistingIndex)
	switch entity {
	case EntityContacts:
		for id, f := range s.contacts {
			for _, k := range contactTokens(f) {
				idx[k] = id
			}
		}
	case EntityDeals:
		for id, f := range s.deals {
			if f.Number != "" {
				idx[NumberKey(f.Number)] = id
			}
		}
	}
	return idx
}

func (s *memStore) LookupExisting(_ context.Context, entity Entity, keys []string) (ExistingIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	all := s.index(entity)
	out := make(ExistingIndex)
	for _, k := range keys {
		if id, ok := all[k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (s *memStore) InTx(ctx context.Context, _ time.Duration, fn func(ctx context.Context, w Writer) error) error {
	s.mu.Lock()
	s.txCount++
	forced := s.failTx[s.txCount]
	tx := &memTx{
		store:    s,
		contacts: make(map[uuid.UUID]ContactFields),
		deals:    make(map[uuid.UUID]DealFields),
	}
	s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if forced != nil {
		return forced
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range tx.contacts {
		s.contacts[id] = f
	}
	for id, f := range tx.deals {
		s.deals[id] = f
	}
	return nil
}

func (s *memStore) Pipeline(_ context.Context, id uuid.UUID) (*Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	cp := *p
	cp.Stages = append([]Stage(nil), p.Stages...)
	return &cp, nil
}

func (s *memStore) ActiveUsers(context.Context) ([]User, error) {
	return s.users, s.usersErr
}

func (s *memStore) CreateStage(_ context.Context, pipelineID uuid.UUID, name string, order int) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageErr != nil {
		return uuid.Nil, s.stageErr
	}
	p, ok := s.pipelines[pipelineID]
	if !ok {
		return uuid.Nil, ErrPipelineNotFound
	}
	for _, st := range p.Stages {
		if strings.EqualFold(st.Name, name) {
			return st.ID, nil
		}
	}
	s.stageCreates++
	st := Stage{ID: uuid.New(), Name: name, Order: order}
	p.Stages = append(p.Stages, st)
	return st.ID, nil
}

func (s *memStore) stageNames(pipelineID uuid.UUID) []string {
	var names []string
	for _, st := range s.pipelines[pipelineID].Stages {
		names = append(names, st.Name)
	}
	return names
}

var (
	errGone            = errors.New("record no longer exists")
	errUniqueViolation = errors.New(`ERROR: duplicate key value violates unique constraint "contacts_phone_key"`)
)

// contactKeyTaken reports whether another stored contact already holds the
// email or phone of f, as the unique indexes on contacts would.
func (s *memStore) contactKeyTaken(id uuid.UUID, f ContactFields) bool {
	for other, o := range s.contacts {
		if other == id {
			continue
		}
		if (f.Email != "" && f.Email == o.Email) || (f.Phone != "" && f.Phone == o.Phone) {
			return true
		}
	}
	return false
}

type memTx struct {
	store    *memStore
	contacts map[uuid.UUID]ContactFields
	deals    map[uuid.UUID]DealFields
}

func (tx *memTx) InsertSkipDuplicates(_ context.Context, entity Entity, records []*Candidate) (int, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	taken := tx.store.index(entity)
	inserted := 0
	for _, r := range records {
		if _, dup := taken.Match(r.LookupKeys); dup {
			continue
		}
		for _, k := range r.LookupKeys {
			taken[k] = r.ID
		}
		switch entity {
		case EntityContacts:
			tx.contacts[r.ID] = *r.Contact
		case EntityDeals:
			tx.deals[r.ID] = *r.Deal
		}
		inserted++
	}
	return inserted, nil
}

func (tx *memTx) Update(_ context.Context, entity Entity, c *Candidate) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	switch entity {
	case EntityContacts:
		cur, ok := tx.store.contacts[c.ID]
		if !ok {
			return errGone
		}
		if c.Contact.FullName != "" {
			cur.FullName = c.Contact.FullName
		}
		if c.Contact.Email != "" {
			cur.Email = c.Contact.Email
		}
		if c.Contact.Phone != "" {
			cur.Phone = c.Contact.Phone
		}
		if c.Contact.Company != "" {
			cur.Company = c.Contact.Company
		}
		if tx.store.contactKeyTaken(c.ID, cur) {
			return errUniqueViolation
		}
		tx.contacts[c.ID] = cur
	case EntityDeals:
		cur, ok := tx.store.deals[c.ID]
		if !ok {
			return errGone
		}
		cur.Title = c.Deal.Title
		if c.Deal.StageID != nil {
			cur.StageID = c.Deal.StageID
		}
		tx.deals[c.ID] = cur
	}
	return nil
}

// recordingLocker counts lock calls per key.
type recordingLocker struct {
	mu    sync.Mutex
	keys  []string
	err   error
	freed int
}

func (l *recordingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		l.freed++
		l.mu.Unlock()
	}, nil
}

// sliceSource is a RowSource over in-memory records.
type sliceSource struct {
	header *Header
	rows   [][]string
	err    error
}

func newSource(columns []string, rows ...[]string) *sliceSource {
	return &sliceSource{header: NewHeader(columns), rows: rows}
}

func (s *sliceSource) Header() *Header { return s.header }

func (s *sliceSource) Each(fn func(row RawRow, rowNum int) error) error {
	for i, r := range s.rows {
		if err := fn(s.header.Row(r), i+2); err != nil {
			return err
		}
	}
	return s.err
}
