package importer

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  plain  ", "plain"},
		{`="00123"`, "00123"},
		{`"quoted"`, "quoted"},
		{`'single'`, "single"},
		{"", ""},
		{`  "  padded  "  `, "padded"},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		input  string
		want   time.Time
		wantOK bool
	}{
		{"iso", "2024-03-15", day(2024, time.March, 15), true},
		{"iso slashes", "2024/03/15", day(2024, time.March, 15), true},
		{"european dots", "15.03.2024", day(2024, time.March, 15), true},
		{"european short", "5.3.2024", day(2024, time.March, 5), true},
		{"us slashes", "03/15/2024", day(2024, time.March, 15), true},
		{"us short", "3/5/2024", day(2024, time.March, 5), true},
		{"spelled month", "Mar 15, 2024", day(2024, time.March, 15), true},
		{"spelled day first", "15 March 2024", day(2024, time.March, 15), true},
		{"compact", "20240315", day(2024, time.March, 15), true},
		{"timestamp truncated", "2024-03-15 13:45:00", day(2024, time.March, 15), true},
		{"two digit year", "15.03.24", day(2024, time.March, 15), true},
		{"two digit year last century", "03/15/99", day(1999, time.March, 15), true},
		{"blank", "  ", time.Time{}, false},
		{"garbage", "next tuesday", time.Time{}, false},
		{"impossible date", "2024-02-30", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseAmount Tests
// ----------------------------------------------------------------------------

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantValue    string
		wantCurrency string
		wantOK       bool
	}{
		{"plain", "1234.50", "1234.5", "", true},
		{"integer", "42", "42", "", true},
		{"negative", "-5", "-5", "", true},
		{"dollar with thousands", "$1,234.50", "1234.5", "USD", true},
		{"euro decimal comma", "1 234,50 €", "1234.5", "EUR", true},
		{"european thousands", "1.234,50", "1234.5", "", true},
		{"accounting negative", "(12.50)", "-12.5", "", true},
		{"short decimal comma", "12,5", "12.5", "", true},
		{"thousands comma", "1,234", "1234", "", true},
		{"ruble", "5000 ₽", "5000", "RUB", true},
		{"blank", "", "", "", false},
		{"letters", "abc", "", "", false},
		{"two decimal points", "1.2.3", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, currency, ok := ParseAmount(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseAmount(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if want := decimal.RequireFromString(tt.wantValue); !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, want)
			}
			if currency != tt.wantCurrency {
				t.Errorf("ParseAmount(%q) currency = %q, want %q", tt.input, currency, tt.wantCurrency)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// SplitMulti Tests
// ----------------------------------------------------------------------------

func TestSplitMulti(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"vip, partner", []string{"vip", "partner"}},
		{"a, b,,c ", []string{"a", "b", "c"}},
		{"single", []string{"single"}},
		{"", nil},
		{" , ", nil},
	}

	for _, tt := range tests {
		if got := SplitMulti(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitMulti(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}
