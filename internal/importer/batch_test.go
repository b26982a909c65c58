package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"
)

func contactCand(row int, keys ...string) *Candidate {
	c := &Candidate{Row: row, Entity: EntityContacts, Contact: &ContactFields{}, LookupKeys: keys}
	if len(keys) > 0 {
		c.NaturalKey = keys[0]
	}
	return c
}

func TestPartition(t *testing.T) {
	existingID := uuid.New()
	existing := ExistingIndex{
		EmailKey("old@x.com"):    existingID,
		PhoneKey("+12025550100"): existingID,
	}

	cands := []*Candidate{
		contactCand(2, EmailKey("new@x.com")),
		contactCand(3, EmailKey("old@x.com")),
		contactCand(4, EmailKey("NEW2@x.com"), PhoneKey("+12025550199")),
		contactCand(5, EmailKey("other@x.com"), PhoneKey("+12025550199")), // shares phone with row 4
		contactCand(6, PhoneKey("+12025550100")),                          // same record as row 3
	}

	var warnings []string
	p, skipped := partition(cands, existing, func(s string) { warnings = append(warnings, s) })

	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(p.creates) != 2 || len(p.updates) != 1 {
		t.Fatalf("creates = %d, updates = %d; want 2, 1", len(p.creates), len(p.updates))
	}
	if p.updates[0].Row != 3 || p.updates[0].ID != existingID {
		t.Errorf("update = row %d id %v, want row 3 id %v", p.updates[0].Row, p.updates[0].ID, existingID)
	}
	for _, c := range p.creates {
		if c.ID == uuid.Nil {
			t.Errorf("create row %d has no id", c.Row)
		}
	}
	if len(warnings) != 2 ||
		!strings.Contains(warnings[0], "row 5: duplicate of row 4") ||
		!strings.Contains(warnings[1], "row 6: matches the same existing record as row 3") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestPartition_KeysOnDifferentRecords(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	existing := ExistingIndex{
		EmailKey("a@x.com"):      x,
		PhoneKey("+12025550143"): y,
	}

	cands := []*Candidate{
		contactCand(2, EmailKey("a@x.com"), PhoneKey("+12025550143")),
		contactCand(3, PhoneKey("+12025550143")),
	}
	p, skipped := partition(cands, existing, func(string) {})

	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(p.failed) != 1 {
		t.Fatalf("failed = %v, want one conflict", p.failed)
	}
	f := p.failed[0]
	if f.Row != 2 || f.Field != FieldPhone || f.Value != "+12025550143" || f.Code != "VAL005" {
		t.Errorf("failed[0] = %+v", f)
	}
	// the failed row claims no keys, so row 3 still updates y
	if len(p.updates) != 1 || p.updates[0].Row != 3 || p.updates[0].ID != y {
		t.Errorf("updates = %v, want row 3 on %v", p.updates, y)
	}
}

func TestExistingIndex_MatchOne(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	idx := ExistingIndex{"email:a": x, "phone:1": x, "phone:2": y}

	tests := []struct {
		keys     []string
		wantID   uuid.UUID
		wantOK   bool
		conflict string
	}{
		{[]string{"email:a", "phone:1"}, x, true, ""},
		{[]string{"email:none", "phone:2"}, y, true, ""},
		{[]string{"email:a", "phone:2"}, x, true, "phone:2"},
		{[]string{"email:none"}, uuid.Nil, false, ""},
		{nil, uuid.Nil, false, ""},
	}
	for _, tt := range tests {
		id, ok, conflict := idx.MatchOne(tt.keys)
		if id != tt.wantID || ok != tt.wantOK || conflict != tt.conflict {
			t.Errorf("MatchOne(%v) = %v, %v, %q; want %v, %v, %q", tt.keys, id, ok, conflict, tt.wantID, tt.wantOK, tt.conflict)
		}
	}
}

func TestNaturalKeys(t *testing.T) {
	cands := []*Candidate{
		contactCand(2, EmailKey("a@x.com"), PhoneKey("+1")),
		contactCand(3, EmailKey("a@x.com")),
		contactCand(4),
	}
	if got := naturalKeys(cands); len(got) != 2 {
		t.Errorf("naturalKeys() = %v, want 2 distinct tokens", got)
	}
}

func TestChunk(t *testing.T) {
	cands := make([]*Candidate, 2500)
	for i := range cands {
		cands[i] = contactCand(i + 2)
	}

	chunks := chunk(cands, 1000)
	if len(chunks) != 3 {
		t.Fatalf("chunk() = %d chunks, want 3", len(chunks))
	}
	for i, want := range []int{1000, 1000, 500} {
		if len(chunks[i]) != want {
			t.Errorf("chunk %d has %d records, want %d", i+1, len(chunks[i]), want)
		}
	}

	if got := chunk(nil, 1000); len(got) != 0 {
		t.Errorf("chunk(nil) = %d chunks, want 0", len(got))
	}
	if got := chunk(cands[:5], 0); len(got) != 1 {
		t.Errorf("chunk(size 0) = %d chunks, want 1 using the default size", len(got))
	}
}

// countingStrategy records chunk sizes and fails the chunk numbers in fail.
type countingStrategy struct {
	calls []int
	fail  map[int]bool
}

func (s *countingStrategy) create(_ context.Context, _ Entity, records []*Candidate) (int, error) {
	s.calls = append(s.calls, len(records))
	if s.fail[len(s.calls)] {
		return 0, errors.New("connection reset by peer")
	}
	return len(records), nil
}

func (s *countingStrategy) update(ctx context.Context, e Entity, records []*Candidate) (int, error) {
	return s.create(ctx, e, records)
}

func TestBatchEngine_ChunkFailureIsIsolated(t *testing.T) {
	cands := make([]*Candidate, 2500)
	for i := range cands {
		cands[i] = contactCand(i + 2)
	}

	strategy := &countingStrategy{fail: map[int]bool{2: true}}
	engine := &batchEngine{
		entity:    EntityContacts,
		chunkSize: 1000,
		strategy:  strategy,
		tracer:    noop.NewTracerProvider().Tracer("test"),
	}

	res := &Result{}
	engine.run(context.Background(), plan{creates: cands}, res)

	if len(strategy.calls) != 3 {
		t.Fatalf("commits = %d, want 3", len(strategy.calls))
	}
	if res.Summary.Created != 1500 || res.Summary.Failed != 1000 {
		t.Errorf("summary = %+v, want created 1500 failed 1000", res.Summary)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want one chunk error", res.Errors)
	}
	e := res.Errors[0]
	if e.Row != -1 || e.Code != "DB005" || !strings.Contains(e.Message, "rows 1002-2001") {
		t.Errorf("chunk error = %+v", e)
	}
}

func TestBatchEngine_SkippedDuplicates(t *testing.T) {
	engine := &batchEngine{
		entity:    EntityContacts,
		chunkSize: 10,
		strategy:  partialStrategy{inserted: 3},
		tracer:    noop.NewTracerProvider().Tracer("test"),
	}

	res := &Result{}
	engine.run(context.Background(), plan{creates: []*Candidate{contactCand(2), contactCand(3), contactCand(4), contactCand(5)}}, res)

	if res.Summary.Created != 3 || res.Summary.Skipped != 1 {
		t.Errorf("summary = %+v, want created 3 skipped 1", res.Summary)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", res.Warnings)
	}
}

type partialStrategy struct{ inserted int }

func (s partialStrategy) create(context.Context, Entity, []*Candidate) (int, error) {
	return s.inserted, nil
}

func (s partialStrategy) update(_ context.Context, _ Entity, records []*Candidate) (int, error) {
	return len(records), nil
}

func TestPlanStages(t *testing.T) {
	pending := []PendingStage{{"B", 3}, {"A", 5}, {"b", 9}}

	got := planStages(pending, 4)
	want := []StageRef{{Name: "B", Order: 5}, {Name: "A", Order: 6}}
	if len(got) != len(want) {
		t.Fatalf("planStages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].Order != want[i].Order || got[i].ID != nil {
			t.Errorf("planStages()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPendingStages_FromPlan(t *testing.T) {
	deal := func(row int, pending string) *Candidate {
		return &Candidate{Row: row, Entity: EntityDeals, Deal: &DealFields{}, PendingStage: pending}
	}
	p := plan{
		creates: []*Candidate{deal(4, "Lost"), deal(6, "")},
		updates: []*Candidate{deal(2, "lost"), deal(5, "Won")},
	}

	got := pendingStages(p)
	want := []PendingStage{{Name: "lost", Row: 2}, {Name: "Won", Row: 5}}
	if len(got) != len(want) {
		t.Fatalf("pendingStages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pendingStages()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestApplyStages(t *testing.T) {
	p := testPipeline()
	stages := NewStageIndex(p)
	created := uuid.New()

	deal := func(row int, pending string) *Candidate {
		return &Candidate{Row: row, Entity: EntityDeals, Deal: &DealFields{}, PendingStage: pending}
	}
	fixed := deal(2, "")
	fixed.Deal.StageID = &p.Stages[0].ID

	in := plan{creates: []*Candidate{
		fixed,
		deal(3, "Negotiation"),
		deal(4, "Broken"),
		deal(5, ""),
	}}
	outcome := &stageOutcome{
		ids:    map[string]uuid.UUID{"negotiation": created},
		failed: map[string]error{"broken": errors.New("ERROR: could not serialize access")},
	}

	res := &Result{}
	out := applyStages(in, stages, outcome, res)

	if len(out.creates) != 3 {
		t.Fatalf("kept %d deals, want 3", len(out.creates))
	}
	if *out.creates[0].Deal.StageID != p.Stages[0].ID {
		t.Error("explicit stage was changed")
	}
	if *out.creates[1].Deal.StageID != created || out.creates[1].PendingStage != "" {
		t.Error("pending stage did not take the created id")
	}
	if *out.creates[2].Deal.StageID != p.Stages[1].ID {
		t.Error("stageless deal did not get the default stage")
	}
	if res.Summary.Failed != 1 || len(res.Errors) != 1 || res.Errors[0].Row != 4 || res.Errors[0].Field != FieldStage {
		t.Errorf("result = %+v, want row 4 stage failure", res)
	}
}

func TestApplyStages_DryRunKeepsPending(t *testing.T) {
	stages := NewStageIndex(testPipeline())
	c := &Candidate{Row: 2, Entity: EntityDeals, Deal: &DealFields{}, PendingStage: "Negotiation"}

	res := &Result{}
	out := applyStages(plan{updates: []*Candidate{c}}, stages, nil, res)
	if len(out.updates) != 1 || c.Deal.StageID != nil || c.PendingStage != "Negotiation" {
		t.Errorf("dry run changed pending stage: %+v", c)
	}
	if res.Summary.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Summary.Failed)
	}
}
