package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// ----------------------------------------------------------------------------
// Converter Tests
// ----------------------------------------------------------------------------

func TestToPgText(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      string
	}{
		{"Acme", true, "Acme"},
		{"  padded  ", true, "padded"},
		{"", false, ""},
		{"   ", false, ""},
	}
	for _, tt := range tests {
		got := toPgText(tt.input)
		if got.Valid != tt.wantValid || got.String != tt.want {
			t.Errorf("toPgText(%q) = {%q %v}, want {%q %v}", tt.input, got.String, got.Valid, tt.want, tt.wantValid)
		}
	}
}

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     decimal.NullDecimal
		wantValid bool
		want      float64
	}{
		{"null", decimal.NullDecimal{}, false, 0},
		{"integer", decimal.NewNullDecimal(decimal.NewFromInt(1500)), true, 1500},
		{"fraction", decimal.NewNullDecimal(decimal.RequireFromString("1234.56")), true, 1234.56},
		{"negative", decimal.NewNullDecimal(decimal.RequireFromString("-42.5")), true, -42.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toPgNumeric(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			f, err := got.Float64Value()
			if err != nil {
				t.Fatalf("Float64Value() error = %v", err)
			}
			if f.Float64 != tt.want {
				t.Errorf("value = %v, want %v", f.Float64, tt.want)
			}
		})
	}
}

func TestToPgUUID(t *testing.T) {
	if got := toPgUUID(nil); got.Valid {
		t.Error("toPgUUID(nil) should be NULL")
	}
	nilID := uuid.Nil
	if got := toPgUUID(&nilID); got.Valid {
		t.Error("toPgUUID(&uuid.Nil) should be NULL")
	}
	id := uuid.New()
	got := toPgUUID(&id)
	if !got.Valid || fromPgUUID(got) != id {
		t.Errorf("toPgUUID round trip = %v, want %v", fromPgUUID(got), id)
	}
}

func TestToPgDate(t *testing.T) {
	if got := toPgDate(nil); got.Valid {
		t.Error("toPgDate(nil) should be NULL")
	}
	d := time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC)
	got := toPgDate(&d)
	if !got.Valid || !got.Time.Equal(d) {
		t.Errorf("toPgDate = %v, want %v", got.Time, d)
	}
}

func TestTextArrayNeverNil(t *testing.T) {
	if got := textArray(nil); got == nil || len(got) != 0 {
		t.Errorf("textArray(nil) = %#v, want empty slice", got)
	}
	if got := jsonObject(nil); got == nil || len(got) != 0 {
		t.Errorf("jsonObject(nil) = %#v, want empty map", got)
	}
}

// ----------------------------------------------------------------------------
// Lookup Tests
// ----------------------------------------------------------------------------

func TestGroupKeys(t *testing.T) {
	keys := []string{
		importer.EmailKey("a@x.com"),
		importer.PhoneKey("+12025550143"),
		importer.EmailKey("a@x.com"),
		importer.NumberKey("D-1"),
		"garbage",
		"email:",
	}
	got := groupKeys(keys)

	if len(got["email"]) != 1 || got["email"][0] != "a@x.com" {
		t.Errorf("email = %v, want [a@x.com]", got["email"])
	}
	if len(got["phone"]) != 1 || got["phone"][0] != "+12025550143" {
		t.Errorf("phone = %v, want [+12025550143]", got["phone"])
	}
	if len(got["number"]) != 1 || got["number"][0] != "D-1" {
		t.Errorf("number = %v, want [D-1]", got["number"])
	}
	if len(got) != 3 {
		t.Errorf("kinds = %d, want 3", len(got))
	}
}

// ----------------------------------------------------------------------------
// Write Tests
// ----------------------------------------------------------------------------

func TestRowsMatchColumns(t *testing.T) {
	actor := uuid.New()
	contact := &importer.Candidate{
		ID:        uuid.New(),
		CreatedBy: actor,
		Contact:   &importer.ContactFields{FullName: "Ann", Email: "ann@x.com"},
	}
	deal := &importer.Candidate{
		ID:        uuid.New(),
		CreatedBy: actor,
		Deal:      &importer.DealFields{Title: "Big deal", PipelineID: uuid.New()},
	}

	if got := len(contactRow(contact)); got != len(contactColumns) {
		t.Errorf("contactRow has %d values, want %d", got, len(contactColumns))
	}
	if got := len(dealRow(deal)); got != len(dealColumns) {
		t.Errorf("dealRow has %d values, want %d", got, len(dealColumns))
	}
	if got := len(contactUpdateArgs(contact)); got != 14 {
		t.Errorf("contactUpdateArgs has %d values, want 14", got)
	}
	if got := len(dealUpdateArgs(deal)); got != 12 {
		t.Errorf("dealUpdateArgs has %d values, want 12", got)
	}
}

func TestSpecForUnknownEntity(t *testing.T) {
	if _, err := specFor("invoices"); !errors.Is(err, importer.ErrUnknownEntity) {
		t.Errorf("specFor(invoices) error = %v, want ErrUnknownEntity", err)
	}
	spec, err := specFor(importer.EntityDeals)
	if err != nil || spec.table != "deals" {
		t.Errorf("specFor(deals) = %q, %v", spec.table, err)
	}
}

// ----------------------------------------------------------------------------
// Metadata Tests
// ----------------------------------------------------------------------------

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
