package importer

import "strings"

// Header is the parsed header row of a source. Column lookups are
// case-insensitive and ignore surrounding whitespace and spreadsheet quoting.
type Header struct {
	columns []string
	index   map[string]int
}

// NewHeader builds a Header. When two columns clean to the same name the
// first one wins.
func NewHeader(columns []string) *Header {
	h := &Header{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		c = CleanCell(c)
		h.columns[i] = c
		key := strings.ToLower(c)
		if _, dup := h.index[key]; !dup {
			h.index[key] = i
		}
	}
	return h
}

// Columns returns the cleaned column names in source order.
func (h *Header) Columns() []string {
	return h.columns
}

// Row wraps one record's values. Short records are padded with blanks;
// values beyond the header are dropped.
func (h *Header) Row(values []string) RawRow {
	return RawRow{header: h, values: values}
}

// RawRow is one source record: an ordered mapping from column name to raw
// string value.
type RawRow struct {
	header *Header
	values []string
}

// Get returns the raw value for column, and whether the column exists.
func (r RawRow) Get(column string) (string, bool) {
	if r.header == nil {
		return "", false
	}
	i, ok := r.header.index[strings.ToLower(CleanCell(column))]
	if !ok {
		return "", false
	}
	if i >= len(r.values) {
		return "", true
	}
	return r.values[i], true
}

// Value returns the cleaned value for column, "" when missing or blank.
func (r RawRow) Value(column string) string {
	v, _ := r.Get(column)
	return CleanCell(v)
}

// Len returns the number of header columns.
func (r RawRow) Len() int {
	if r.header == nil {
		return 0
	}
	return len(r.header.columns)
}

// IsBlank reports whether every cell is empty after cleaning.
func (r RawRow) IsBlank() bool {
	for _, v := range r.values {
		if CleanCell(v) != "" {
			return false
		}
	}
	return true
}

// RowSource streams the data rows of an input. Each calls fn once per data
// row with its 1-based row number (the header is row 1) and stops at the first
// error returned by fn.
type RowSource interface {
	Header() *Header
	Each(fn func(row RawRow, rowNum int) error) error
}
