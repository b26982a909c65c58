package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// pendingStages collects the unknown stage names of the candidates that
// survived partitioning. Skipped and failed rows never create a stage.
func pendingStages(p plan) []PendingStage {
	cands := make([]*Candidate, 0, len(p.creates)+len(p.updates))
	cands = append(cands, p.creates...)
	cands = append(cands, p.updates...)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Row < cands[j].Row })

	reg := NewPendingStages()
	for _, c := range cands {
		if c.PendingStage != "" {
			reg.Add(c.PendingStage, c.Row)
		}
	}
	return reg.List()
}

// planStages assigns creation orders to pending stages. Names keep their
// first-seen row order and orders continue after maxOrder.
func planStages(pending []PendingStage, maxOrder int) []StageRef {
	out := make([]StageRef, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		key := normName(p.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, StageRef{Name: p.Name, Order: maxOrder + 1 + len(out)})
	}
	return out
}

// stageOutcome maps a normalized stage name to its created id or the error
// that prevented creation.
type stageOutcome struct {
	ids    map[string]uuid.UUID
	failed map[string]error
}

// createStages creates every planned stage. A failure is kept per name so
// only the rows needing that stage fail.
func (s *Service) createStages(ctx context.Context, pipelineID uuid.UUID, planned []StageRef) (stageOutcome, []StageRef) {
	out := stageOutcome{
		ids:    make(map[string]uuid.UUID, len(planned)),
		failed: make(map[string]error),
	}
	var created []StageRef
	for _, st := range planned {
		id, err := s.meta.CreateStage(ctx, pipelineID, st.Name, st.Order)
		if err != nil {
			out.failed[normName(st.Name)] = err
			continue
		}
		out.ids[normName(st.Name)] = id
		ref := st
		ref.ID = &id
		created = append(created, ref)
		stagesCreated.Inc()
	}
	return out, created
}

// applyStages settles the stage of every deal candidate in p before commit.
//
// Pending stages take the id created for their name (real run) or stay
// pending (dry run, outcome is nil). Deals without any stage token get the
// pipeline default. Candidates whose stage cannot be settled are dropped
// from p and reported as failed rows.
func applyStages(p plan, stages *StageIndex, outcome *stageOutcome, res *Result) plan {
	keep := func(list []*Candidate) []*Candidate {
		out := list[:0]
		for _, c := range list {
			if c.Deal == nil {
				out = append(out, c)
				continue
			}
			if err := settleStage(c, stages, outcome); err != nil {
				res.Summary.Failed++
				res.Errors = append(res.Errors, *err)
				continue
			}
			out = append(out, c)
		}
		return out
	}
	return plan{creates: keep(p.creates), updates: keep(p.updates)}
}

func settleStage(c *Candidate, stages *StageIndex, outcome *stageOutcome) *ImportError {
	switch {
	case c.Deal.StageID != nil:
		return nil

	case c.PendingStage != "":
		if outcome == nil {
			return nil
		}
		key := normName(c.PendingStage)
		if id, ok := outcome.ids[key]; ok {
			c.Deal.StageID = &id
			c.PendingStage = ""
			return nil
		}
		msg := "stage could not be created"
		if err := outcome.failed[key]; err != nil {
			msg = fmt.Sprintf("stage could not be created: %s", MapError(err).Message)
		}
		return &ImportError{Row: c.Row, Field: FieldStage, Value: c.PendingStage, Message: msg}

	default:
		if id, ok := stages.Default(); ok {
			c.Deal.StageID = &id
			return nil
		}
		return &ImportError{Row: c.Row, Field: FieldStage, Message: "no stage given and the pipeline has no default stage"}
	}
}
