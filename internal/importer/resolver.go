package importer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// normName is the case-insensitive comparison form of a stage or user name.
func normName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// StageIndex resolves stage tokens of one pipeline by exact name,
// case-insensitive name or id.
type StageIndex struct {
	exact    map[string]uuid.UUID
	byName   map[string]uuid.UUID
	byID     map[uuid.UUID]struct{}
	dflt     uuid.UUID
	hasDflt  bool
	maxOrder int
}

// NewStageIndex indexes the current stages of p. The default stage is the
// one marked default, else the one with the lowest order.
func NewStageIndex(p *Pipeline) *StageIndex {
	idx := &StageIndex{
		exact:  make(map[string]uuid.UUID, len(p.Stages)),
		byName: make(map[string]uuid.UUID, len(p.Stages)),
		byID:   make(map[uuid.UUID]struct{}, len(p.Stages)),
	}

	var lowest *Stage
	for i := range p.Stages {
		st := &p.Stages[i]
		idx.byID[st.ID] = struct{}{}
		if _, ok := idx.exact[st.Name]; !ok {
			idx.exact[st.Name] = st.ID
		}
		if key := normName(st.Name); key != "" {
			if _, ok := idx.byName[key]; !ok {
				idx.byName[key] = st.ID
			}
		}
		if st.IsDefault && !idx.hasDflt {
			idx.dflt, idx.hasDflt = st.ID, true
		}
		if lowest == nil || st.Order < lowest.Order {
			lowest = st
		}
		if i == 0 || st.Order > idx.maxOrder {
			idx.maxOrder = st.Order
		}
	}
	if !idx.hasDflt && lowest != nil {
		idx.dflt, idx.hasDflt = lowest.ID, true
	}
	return idx
}

// Resolve looks up a raw stage token.
func (idx *StageIndex) Resolve(token string) (uuid.UUID, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, false
	}
	if id, ok := idx.exact[token]; ok {
		return id, true
	}
	if id, ok := idx.byName[normName(token)]; ok {
		return id, true
	}
	if id, err := uuid.Parse(token); err == nil {
		if _, ok := idx.byID[id]; ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Default returns the pipeline's default stage.
func (idx *StageIndex) Default() (uuid.UUID, bool) {
	return idx.dflt, idx.hasDflt
}

// MaxOrder returns the highest stage order, 0 for an empty pipeline.
func (idx *StageIndex) MaxOrder() int {
	return idx.maxOrder
}

// OwnerIndex resolves owner tokens to active users by email, then full name.
type OwnerIndex struct {
	byEmail map[string]uuid.UUID
	byName  map[string]uuid.UUID
	ids     map[uuid.UUID]struct{}
	norm    Normalizer
}

// NewOwnerIndex indexes users. When two users share a name the first wins.
func NewOwnerIndex(users []User, norm Normalizer) *OwnerIndex {
	idx := &OwnerIndex{
		byEmail: make(map[string]uuid.UUID, len(users)),
		byName:  make(map[string]uuid.UUID, len(users)),
		ids:     make(map[uuid.UUID]struct{}, len(users)),
		norm:    norm,
	}
	for _, u := range users {
		idx.ids[u.ID] = struct{}{}
		if email, err := norm.Email(u.Email); err == nil {
			if _, ok := idx.byEmail[email]; !ok {
				idx.byEmail[email] = u.ID
			}
		}
		if name := normName(u.FullName); name != "" {
			if _, ok := idx.byName[name]; !ok {
				idx.byName[name] = u.ID
			}
		}
	}
	return idx
}

// Resolve looks up a raw owner token.
func (idx *OwnerIndex) Resolve(token string) (uuid.UUID, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, false
	}
	if email, err := idx.norm.Email(token); err == nil {
		if id, ok := idx.byEmail[email]; ok {
			return id, true
		}
	}
	id, ok := idx.byName[normName(token)]
	return id, ok
}

// Active reports whether id belongs to an active user.
func (idx *OwnerIndex) Active(id uuid.UUID) bool {
	_, ok := idx.ids[id]
	return ok
}

// PendingStages records unknown stage names in first-seen row order,
// deduplicated case-insensitively.
type PendingStages struct {
	list []PendingStage
	seen map[string]struct{}
}

// NewPendingStages creates an empty registry.
func NewPendingStages() *PendingStages {
	return &PendingStages{seen: make(map[string]struct{})}
}

// Add records name at row unless the name was seen before.
func (p *PendingStages) Add(name string, row int) {
	key := normName(name)
	if key == "" {
		return
	}
	if _, ok := p.seen[key]; ok {
		return
	}
	p.seen[key] = struct{}{}
	p.list = append(p.list, PendingStage{Name: strings.TrimSpace(name), Row: row})
}

// List returns the pending stages in first-seen row order.
func (p *PendingStages) List() []PendingStage {
	out := make([]PendingStage, len(p.list))
	copy(out, p.list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// Len returns the number of distinct pending names.
func (p *PendingStages) Len() int {
	return len(p.list)
}

// Resolver applies the reference indexes of one import to candidates.
// The indexes are built once by the Service and never modified here.
type Resolver struct {
	stages          *StageIndex
	owners          *OwnerIndex
	defaultAssignee *uuid.UUID
	warn            func(string)
}

// NewResolver creates a Resolver. stages is nil for contact imports.
func NewResolver(stages *StageIndex, owners *OwnerIndex, defaultAssignee *uuid.UUID, warn func(string)) *Resolver {
	if warn == nil {
		warn = func(string) {}
	}
	return &Resolver{
		stages:          stages,
		owners:          owners,
		defaultAssignee: defaultAssignee,
		warn:            warn,
	}
}

// ResolveRow resolves the owner and, for deals, the stage of c.
// Unknown owners only warn; unknown stages are kept on the candidate as
// PendingStage.
func (r *Resolver) ResolveRow(c *Candidate) {
	r.resolveOwner(c)
	if c.Deal != nil && r.stages != nil {
		r.resolveStage(c)
	}
}

func (r *Resolver) resolveOwner(c *Candidate) {
	slot := c.assignee()
	token := c.refs.owner

	if !c.refs.ownerMapped || token == "" {
		if r.defaultAssignee != nil {
			id := *r.defaultAssignee
			*slot = &id
		}
		return
	}

	if r.owners != nil {
		if id, ok := r.owners.Resolve(token); ok {
			*slot = &id
			return
		}
	}
	r.warn(fmt.Sprintf("row %d: owner %q not found among active users; left unassigned", c.Row, token))
}

func (r *Resolver) resolveStage(c *Candidate) {
	token := c.refs.stage
	if token == "" {
		// default stage is applied when batching
		return
	}
	if id, ok := r.stages.Resolve(token); ok {
		c.Deal.StageID = &id
		return
	}
	c.PendingStage = strings.TrimSpace(token)
}

// ResolveContacts links deal candidates to existing contacts, email first
// then phone. Unmatched deals keep no contact and produce a warning.
func (r *Resolver) ResolveContacts(cands []*Candidate, contacts ExistingIndex) {
	for _, c := range cands {
		if c.Deal == nil {
			continue
		}
		keys := c.contactKeys()
		if len(keys) == 0 {
			continue
		}
		if id, ok := contacts.Match(keys); ok {
			c.Deal.ContactID = &id
			continue
		}
		r.warn(fmt.Sprintf("row %d: related contact not found; deal imported without contact", c.Row))
	}
}

// contactLookupKeys gathers the distinct contact tokens of all deal
// candidates for one bulk lookup.
func contactLookupKeys(cands []*Candidate) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, c := range cands {
		if c.Deal == nil {
			continue
		}
		for _, k := range c.contactKeys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
