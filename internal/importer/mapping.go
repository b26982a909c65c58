package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BindingKind tags the variant held by a Binding.
type BindingKind uint8

const (
	// BindingColumn binds a field to one source column.
	BindingColumn BindingKind = iota + 1
	// BindingGroup binds a composite field to several sub-columns,
	// e.g. socialLinks: {telegram: "TG", vk: "VK profile"}.
	BindingGroup
)

// Binding is the source side of one FieldMapping entry.
type Binding struct {
	Kind   BindingKind
	Column string
	Group  map[string]string
}

// Column binds a field to a single source column.
func Column(name string) Binding {
	return Binding{Kind: BindingColumn, Column: name}
}

// Group binds a composite field to a set of sub-columns keyed by sub-field.
func Group(columns map[string]string) Binding {
	return Binding{Kind: BindingGroup, Group: columns}
}

// UnmarshalJSON accepts a column name string or an object of sub-field to
// column name.
func (b *Binding) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = Binding{}
		return nil
	}

	switch data[0] {
	case '"':
		var col string
		if err := json.Unmarshal(data, &col); err != nil {
			return err
		}
		*b = Column(col)
		return nil
	case '{':
		var group map[string]string
		if err := json.Unmarshal(data, &group); err != nil {
			return fmt.Errorf("binding group: %w", err)
		}
		*b = Group(group)
		return nil
	default:
		return fmt.Errorf("binding must be a column name or an object, got %s", data)
	}
}

// MarshalJSON writes the same shapes UnmarshalJSON accepts.
func (b Binding) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BindingColumn:
		return json.Marshal(b.Column)
	case BindingGroup:
		return json.Marshal(b.Group)
	default:
		return []byte("null"), nil
	}
}

// FieldMapping binds canonical field keys to source columns.
type FieldMapping map[string]Binding

// Column returns the source column bound to field, or "" when the field is
// unmapped or bound to a group.
func (m FieldMapping) Column(field string) string {
	b, ok := m[field]
	if !ok || b.Kind != BindingColumn {
		return ""
	}
	return b.Column
}

// Has reports whether field is bound to a non-empty column or group.
func (m FieldMapping) Has(field string) bool {
	b, ok := m[field]
	if !ok {
		return false
	}
	switch b.Kind {
	case BindingColumn:
		return b.Column != ""
	case BindingGroup:
		return len(b.Group) > 0
	}
	return false
}

// Fields returns the mapped field keys in sorted order.
func (m FieldMapping) Fields() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Ref is an entity reference given either as "uuid" or as {"id": "uuid"}.
// Both forms are resolved once when decoded.
type Ref struct {
	ID  uuid.UUID
	Set bool
}

// RefTo returns a set Ref.
func RefTo(id uuid.UUID) Ref {
	return Ref{ID: id, Set: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}

	var raw string
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("reference object: %w", err)
		}
		raw = obj.ID
	default:
		return fmt.Errorf("reference must be an id string or {\"id\": ...}, got %s", data)
	}

	if raw == "" {
		*r = Ref{}
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("reference %q: %w", raw, err)
	}
	*r = RefTo(id)
	return nil
}

// MarshalJSON writes the id string, or null when unset.
func (r Ref) MarshalJSON() ([]byte, error) {
	if !r.Set {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID.String())
}

// Ptr returns a pointer to the id, or nil when unset.
func (r Ref) Ptr() *uuid.UUID {
	if !r.Set {
		return nil
	}
	id := r.ID
	return &id
}

// Request describes one import invocation.
type Request struct {
	Entity  Entity
	Mapping FieldMapping
	DryRun  bool

	// ActorID is the user performing the import. It is required for a real
	// run; a dry run without it only produces a warning.
	ActorID uuid.UUID

	// DefaultAssignee applies to rows whose owner column is unmapped or blank.
	DefaultAssignee *uuid.UUID

	// PipelineID is the target pipeline; required for deals.
	PipelineID uuid.UUID
}

// RequestPayload is the wire form of Request used by the HTTP API and the
// CLI mapping file.
type RequestPayload struct {
	Mapping         FieldMapping `json:"mapping" validate:"required"`
	DryRun          bool         `json:"dryRun"`
	Actor           Ref          `json:"actor"`
	DefaultAssignee Ref          `json:"defaultAssignee"`
	Pipeline        Ref          `json:"pipeline"`
}

// Request converts the payload for the given entity.
func (p RequestPayload) Request(entity Entity) Request {
	return Request{
		Entity:          entity,
		Mapping:         p.Mapping,
		DryRun:          p.DryRun,
		ActorID:         p.Actor.ID,
		DefaultAssignee: p.DefaultAssignee.Ptr(),
		PipelineID:      p.Pipeline.ID,
	}
}
