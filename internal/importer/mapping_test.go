package importer

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestFieldMapping_UnmarshalJSON(t *testing.T) {
	var m FieldMapping
	data := `{"email":"E-mail","socialLinks":{"telegram":"TG","vk":"VK"},"phone":"","notes":null}`
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got := m.Column(FieldEmail); got != "E-mail" {
		t.Errorf("Column(email) = %q, want E-mail", got)
	}
	if b := m[FieldSocialLinks]; b.Kind != BindingGroup || len(b.Group) != 2 {
		t.Errorf("socialLinks = %+v, want a group of 2", b)
	}
	if m.Column(FieldSocialLinks) != "" {
		t.Error("Column() of a group binding should be empty")
	}
	if m.Has(FieldPhone) || m.Has(FieldNotes) || m.Has(FieldCompany) {
		t.Error("empty, null and absent bindings must not count as mapped")
	}
	if want := []string{FieldEmail, FieldNotes, FieldPhone, FieldSocialLinks}; len(m.Fields()) != len(want) || m.Fields()[0] != want[0] {
		t.Errorf("Fields() = %v, want %v", m.Fields(), want)
	}

	if err := json.Unmarshal([]byte(`{"email":42}`), &m); err == nil {
		t.Error("numeric binding should be rejected")
	}
}

func TestBinding_RoundTrip(t *testing.T) {
	in := FieldMapping{
		FieldEmail:       Column("Email"),
		FieldSocialLinks: Group(map[string]string{"vk": "VK"}),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"email":"Email","socialLinks":{"vk":"VK"}}` {
		t.Errorf("Marshal() = %s", data)
	}
}

func TestRef_UnmarshalJSON(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{"string", `"` + id.String() + `"`, RefTo(id), false},
		{"object", `{"id":"` + id.String() + `"}`, RefTo(id), false},
		{"null", `null`, Ref{}, false},
		{"empty string", `""`, Ref{}, false},
		{"empty object", `{}`, Ref{}, false},
		{"bad id", `"nope"`, Ref{}, true},
		{"number", `7`, Ref{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Ref
			err := json.Unmarshal([]byte(tt.input), &r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && r != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.input, r, tt.want)
			}
		})
	}
}

func TestRequestPayload_Request(t *testing.T) {
	actor, owner, pipeline := uuid.New(), uuid.New(), uuid.New()
	data := `{
		"mapping": {"title": "Deal"},
		"dryRun": true,
		"actor": {"id": "` + actor.String() + `"},
		"defaultAssignee": "` + owner.String() + `",
		"pipeline": "` + pipeline.String() + `"
	}`

	var p RequestPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	req := p.Request(EntityDeals)

	if req.Entity != EntityDeals || !req.DryRun || req.ActorID != actor || req.PipelineID != pipeline {
		t.Errorf("Request() = %+v", req)
	}
	if req.DefaultAssignee == nil || *req.DefaultAssignee != owner {
		t.Errorf("DefaultAssignee = %v, want %v", req.DefaultAssignee, owner)
	}
	if req.Mapping.Column(FieldTitle) != "Deal" {
		t.Errorf("mapping = %v", req.Mapping)
	}

	if (RequestPayload{}).Request(EntityContacts).DefaultAssignee != nil {
		t.Error("unset default assignee should stay nil")
	}
}

func TestParseEntity(t *testing.T) {
	for _, s := range []string{"contacts", "Contact", " DEALS ", "deal"} {
		if _, err := ParseEntity(s); err != nil {
			t.Errorf("ParseEntity(%q) error = %v", s, err)
		}
	}
	if _, err := ParseEntity("tasks"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("ParseEntity(tasks) error = %v, want ErrUnknownEntity", err)
	}
}

func TestSplitKey(t *testing.T) {
	kind, value, ok := SplitKey(PhoneKey("+12025550143"))
	if !ok || kind != "phone" || value != "+12025550143" {
		t.Errorf("SplitKey() = %q, %q, %v", kind, value, ok)
	}
	if _, _, ok := SplitKey("email:"); ok {
		t.Error("SplitKey() accepted an empty value")
	}
	if _, _, ok := SplitKey("garbage"); ok {
		t.Error("SplitKey() accepted a token without kind")
	}
}

func TestHeader(t *testing.T) {
	h := NewHeader([]string{" Name ", `="Email"`, "name"})
	if got := h.Columns(); got[0] != "Name" || got[1] != "Email" {
		t.Errorf("Columns() = %v", got)
	}

	row := h.Row([]string{"Ann", "ann@x.com", "shadowed"})
	if v, ok := row.Get("NAME"); !ok || v != "Ann" {
		t.Errorf("Get(NAME) = %q, %v; first duplicate column should win", v, ok)
	}
	if _, ok := row.Get("Phone"); ok {
		t.Error("Get(Phone) reported a missing column")
	}

	short := h.Row([]string{"Bob"})
	if v, ok := short.Get("Email"); !ok || v != "" {
		t.Errorf("short row Get(Email) = %q, %v; want blank and present", v, ok)
	}
	if short.Len() != 3 {
		t.Errorf("Len() = %d, want 3", short.Len())
	}

	if !h.Row([]string{" ", `""`, ""}).IsBlank() {
		t.Error("IsBlank() = false for empty cells")
	}
	if h.Row([]string{"", "x"}).IsBlank() {
		t.Error("IsBlank() = true for a row with a value")
	}
}

func TestResult_Fatal(t *testing.T) {
	r := &Result{Summary: Summary{Total: 3, Created: 3}}
	if r.Fatal() {
		t.Error("completed result reported fatal")
	}
	r.abort(ImportError{Row: -1, Message: "pipeline not found"})
	if !r.Fatal() || r.Summary != (Summary{}) || len(r.Errors) != 1 {
		t.Errorf("abort() = %+v", r)
	}
}

func TestImportError_Error(t *testing.T) {
	e := ImportError{Row: 4, Field: FieldEmail, Value: "x", Message: "invalid email"}
	if got, want := e.Error(), `row 4: email: invalid email ("x")`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := (ImportError{Row: -1, Message: "chunk failed"}).Error(); got != "chunk failed" {
		t.Errorf("Error() = %q", got)
	}
}
