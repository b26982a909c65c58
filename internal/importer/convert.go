package importer

// convert.go turns raw spreadsheet cells into typed values.
//
// These functions handle the messy reality of user-provided data:
//   - Multiple date formats (ISO, US slashes, European dots, spelled months)
//   - Currency symbols, thousand separators and decimal commas in amounts
//   - Excel formula prefixes (="value") and stray quotes
//
// Parse* functions report ok=false for unparseable input; blank input is
// reported as absent, not as an error.

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are moved
// to the previous century.
var TwoDigitYearPivot = 20

var (
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"02.01.2006", "2.1.2006",
		"01/02/2006", "1/2/2006", "01-02-2006", "1-2-2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"20060102",
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	twoDigitYearLayouts = []string{
		"02.01.06", "2.1.06",
		"01/02/06", "1/2/06",
	}
)

// currencySymbols maps symbols stripped from amounts to ISO codes.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₽", "RUB"},
	{"¥", "JPY"},
	{"₸", "KZT"},
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and
// surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// ParseDate parses s using the supported layouts. Two-digit years are
// resolved with TwoDigitYearPivot. ok is false for blank or unparseable input.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return truncateDay(t), true
		}
	}

	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseAmount parses a money amount. It strips currency symbols, spaces and
// thousands separators, understands accounting negatives "(12.50)" and a
// single decimal comma "12,50". currency is the ISO code implied by a
// stripped symbol, or "".
func ParseAmount(s string) (amount decimal.Decimal, currency string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, "", false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			s = strings.ReplaceAll(s, cs.symbol, "")
			if currency == "" {
				currency = cs.code
			}
		}
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ', '\'':
			return -1
		}
		return r
	}, s)

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// 1.234,50
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ",") == 1 && len(s)-strings.Index(s, ",")-1 <= 2:
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	if negative {
		s = "-" + strings.TrimPrefix(s, "-")
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, currency, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, currency, false
	}
	return d, currency, true
}

// SplitMulti splits a delimited multi-value cell on commas, trimming each
// part and dropping empty ones. It returns nil when nothing remains.
func SplitMulti(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
