package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

// ErrEmptyFile is returned when the input has no header row.
var ErrEmptyFile = errors.New("empty file")

// candidateDelimiters are tried, in order, by DetectDelimiter.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// CSV is a streaming RowSource over delimited text.
type CSV struct {
	reader  *csv.Reader
	counter *CountingReader
	header  *importer.Header
}

// NewCSV reads the header row of r. A zero delimiter is detected from the
// header line.
func NewCSV(r io.Reader, delimiter rune) (*CSV, error) {
	counter := wrapCSV(r)
	br := bufio.NewReaderSize(counter, 64*1024)

	if delimiter == 0 {
		peek, _ := br.Peek(br.Size())
		delimiter = DetectDelimiter(firstLine(peek))
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	cols, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &CSV{reader: cr, counter: counter, header: importer.NewHeader(cols)}, nil
}

// Header implements importer.RowSource.
func (c *CSV) Header() *importer.Header {
	return c.header
}

// Each implements importer.RowSource. Row numbers count the header as row 1
// and follow records, not physical lines.
func (c *CSV) Each(fn func(row importer.RawRow, rowNum int) error) error {
	rowNum := 1
	for {
		rec, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("row %d: %w", rowNum+1, err)
		}
		rowNum++
		if err := fn(c.header.Row(rec), rowNum); err != nil {
			return err
		}
	}
}

// BytesRead returns how much of the input has been consumed.
func (c *CSV) BytesRead() int64 {
	return c.counter.BytesRead
}

// DetectDelimiter picks the candidate delimiter that occurs most often
// outside quotes in line. Ties and lines without any candidate give ','.
func DetectDelimiter(line []byte) rune {
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, b := range line {
		if b == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, d := range candidateDelimiters {
			if rune(b) == d {
				counts[d]++
			}
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		return b[:i]
	}
	return b
}
