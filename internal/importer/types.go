package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entity identifies the target record type of an import.
type Entity string

const (
	EntityContacts Entity = "contacts"
	EntityDeals    Entity = "deals"
)

// ErrUnknownEntity is returned by ParseEntity for anything but contacts or deals.
var ErrUnknownEntity = errors.New("unknown entity")

// ParseEntity accepts "contacts"/"contact" and "deals"/"deal" in any case.
func ParseEntity(s string) (Entity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contacts", "contact":
		return EntityContacts, nil
	case "deals", "deal":
		return EntityDeals, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
	}
}

// Canonical field keys used in FieldMapping.
const (
	FieldFullName       = "fullName"
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldCompany        = "company"
	FieldPosition       = "position"
	FieldTags           = "tags"
	FieldDirections     = "directions"
	FieldContactMethods = "contactMethods"
	FieldSocialLinks    = "socialLinks"
	FieldBirthday       = "birthday"
	FieldNotes          = "notes"
	FieldSource         = "source"
	FieldAssignee       = "assignee"

	FieldNumber           = "number"
	FieldTitle            = "title"
	FieldAmount           = "amount"
	FieldCurrency         = "currency"
	FieldStage            = "stage"
	FieldContactEmail     = "contactEmail"
	FieldContactPhone     = "contactPhone"
	FieldRejectionReasons = "rejectionReasons"
	FieldExpectedClose    = "expectedCloseDate"
	FieldDescription      = "description"
)

// Natural key prefixes. A token is prefix + normalized value, e.g. "email:a@x.com".
const (
	keyEmail  = "email:"
	keyPhone  = "phone:"
	keyNumber = "number:"
)

// EmailKey returns the natural-key token for a normalized email.
func EmailKey(email string) string { return keyEmail + email }

// PhoneKey returns the natural-key token for an E.164 phone number.
func PhoneKey(phone string) string { return keyPhone + phone }

// NumberKey returns the natural-key token for a deal number.
func NumberKey(number string) string { return keyNumber + number }

// SplitKey splits a natural-key token into its kind ("email", "phone",
// "number") and value.
func SplitKey(token string) (kind, value string, ok bool) {
	kind, value, ok = strings.Cut(token, ":")
	if !ok || value == "" {
		return "", "", false
	}
	return kind, value, true
}

// ContactFields holds the typed values of a contact candidate.
type ContactFields struct {
	FullName       string
	Email          string
	Phone          string
	Company        string
	Position       string
	Tags           []string
	Directions     []string
	ContactMethods []string
	SocialLinks    map[string]string
	Birthday       *time.Time
	Notes          string
	Source         string
	AssigneeID     *uuid.UUID
}

// DealFields holds the typed values of a deal candidate.
type DealFields struct {
	Number           string
	Title            string
	Amount           decimal.NullDecimal
	Currency         string
	PipelineID       uuid.UUID
	StageID          *uuid.UUID
	ContactID        *uuid.UUID
	AssigneeID       *uuid.UUID
	Tags             []string
	RejectionReasons []string
	ExpectedClose    *time.Time
	Description      string
}

// refTokens are the raw reference values of a row, kept until resolution.
type refTokens struct {
	owner        string
	ownerMapped  bool
	stage        string
	contactEmail string
	contactPhone string
}

// Candidate is one mapped, normalized row ready for persistence.
type Candidate struct {
	// Row is the 1-based source row (header is row 1).
	Row int

	Entity Entity

	// ID is a fresh id for creates, or the existing record's id once
	// partitioned as an update.
	ID uuid.UUID

	// CreatedBy is the actor performing the import.
	CreatedBy uuid.UUID

	// NaturalKey is the primary matching token; empty when the row has none.
	NaturalKey string

	// LookupKeys holds every token that may identify an existing record,
	// in priority order. NaturalKey is LookupKeys[0] when present.
	LookupKeys []string

	// PendingStage is the raw stage name when it matched no existing stage.
	PendingStage string

	Contact *ContactFields
	Deal    *DealFields

	refs refTokens
}

// ExistingIndex maps natural-key tokens to existing record ids.
type ExistingIndex map[string]uuid.UUID

// Match returns the id of the first of keys present in the index.
func (idx ExistingIndex) Match(keys []string) (uuid.UUID, bool) {
	for _, k := range keys {
		if id, ok := idx[k]; ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// MatchOne resolves every key and returns the record they share. conflict
// is the first key that points at a different record than an earlier key;
// such keys cannot all be kept by one write.
func (idx ExistingIndex) MatchOne(keys []string) (id uuid.UUID, ok bool, conflict string) {
	for _, k := range keys {
		hit, found := idx[k]
		switch {
		case !found:
		case !ok:
			id, ok = hit, true
		case hit != id:
			return id, true, k
		}
	}
	return id, ok, ""
}

// Stage is a pipeline stage as read from the metadata provider.
type Stage struct {
	ID        uuid.UUID
	Name      string
	Order     int
	IsDefault bool
}

// Pipeline is a deal pipeline with its current stages.
type Pipeline struct {
	ID     uuid.UUID
	Name   string
	Stages []Stage
}

// User is an active user that can own imported records.
type User struct {
	ID       uuid.UUID
	Email    string
	FullName string
}

// PendingStage is a referenced stage name that does not exist yet.
type PendingStage struct {
	Name string
	Row  int
}

// StageRef is a stage to create (dry run) or that was created (real run).
type StageRef struct {
	ID    *uuid.UUID `json:"id,omitempty"`
	Name  string     `json:"name"`
	Order int        `json:"order"`
}

// Summary counts the outcome of every data row.
// Total == Created + Updated + Failed + Skipped for a completed pass.
type Summary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Balanced reports whether the counts add up to Total.
func (s Summary) Balanced() bool {
	return s.Total == s.Created+s.Updated+s.Failed+s.Skipped
}

// ImportError describes a row, field, chunk or precondition problem.
// Row is -1 when the error is not tied to one row.
type ImportError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ImportError) Error() string {
	var b strings.Builder
	if e.Row >= 0 {
		fmt.Fprintf(&b, "row %d: ", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	return b.String()
}

// Result is the outcome of one import invocation.
type Result struct {
	ImportID       string        `json:"importId"`
	DryRun         bool          `json:"dryRun"`
	Summary        Summary       `json:"summary"`
	Errors         []ImportError `json:"errors"`
	Warnings       []string      `json:"warnings,omitempty"`
	StagesToCreate []StageRef    `json:"stagesToCreate,omitempty"`
	CreatedStages  []StageRef    `json:"createdStages,omitempty"`
}

// Fatal reports whether the import was aborted by a precondition.
func (r *Result) Fatal() bool {
	return r.Summary == (Summary{}) && len(r.Errors) > 0
}
