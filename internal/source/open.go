// Package source reads import files into importer.RowSource streams.
//
// CSV input is streamed record by record. XLSX input is read from the first
// sheet of the workbook. Open sniffs the content to choose between them.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// ErrUnsupportedType is returned for inputs that are neither text nor XLSX.
var ErrUnsupportedType = errors.New("unsupported file type")

const sniffLen = 3072

// Options controls how a file is opened.
type Options struct {
	// Delimiter forces the CSV delimiter; 0 means detect.
	Delimiter rune

	// Filename is used as a hint when content sniffing is inconclusive.
	Filename string
}

// Source is a RowSource that may hold resources.
type Source interface {
	importer.RowSource
	io.Closer
}

// Open detects the format of r and returns a Source for it.
func Open(r io.Reader, opts Options) (Source, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyFile
	}

	switch kind := detect(head, opts.Filename); kind {
	case "xlsx":
		x, err := NewXLSX(br)
		if err != nil {
			return nil, err
		}
		return x, nil
	case "csv":
		c, err := NewCSV(br, opts.Delimiter)
		if err != nil {
			return nil, err
		}
		return nopCloser{c}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
}

// detect returns "xlsx", "csv" or the detected MIME type.
func detect(head []byte, filename string) string {
	mt := mimetype.Detect(head)
	switch {
	case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return "xlsx"
	case mt.Is("application/zip"):
		if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
			return "xlsx"
		}
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return "csv"
		}
	}
	return mt.String()
}

type nopCloser struct {
	*CSV
}

func (nopCloser) Close() error { return nil }
