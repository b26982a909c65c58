package source

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// XLSX is a RowSource over the first sheet of a workbook. Rows are read
// through excelize's streaming iterator.
type XLSX struct {
	file   *excelize.File
	sheet  string
	header *importer.Header
}

// NewXLSX opens a workbook and reads the header row of its first sheet.
// Close must be called when done.
func NewXLSX(r io.Reader) (*XLSX, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, ErrEmptyFile
	}

	x := &XLSX{file: f, sheet: sheets[0]}

	rows, err := f.Rows(x.sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", x.sheet, err)
	}
	defer rows.Close()

	if !rows.Next() {
		f.Close()
		return nil, ErrEmptyFile
	}
	cols, err := rows.Columns()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	x.header = importer.NewHeader(cols)
	return x, nil
}

// Header implements importer.RowSource.
func (x *XLSX) Header() *importer.Header {
	return x.header
}

// Each implements importer.RowSource. Row numbers are sheet row numbers,
// so the header is row 1.
func (x *XLSX) Each(fn func(row importer.RawRow, rowNum int) error) error {
	rows, err := x.file.Rows(x.sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", x.sheet, err)
	}
	defer rows.Close()

	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("row %d: %w", rowNum, err)
		}
		if rowNum == 1 {
			continue
		}
		if err := fn(x.header.Row(cols), rowNum); err != nil {
			return err
		}
	}
	return rows.Error()
}

// Close releases the workbook.
func (x *XLSX) Close() error {
	return x.file.Close()
}
