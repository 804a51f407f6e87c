package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Delimiters accepted for import sources.
const (
	DelimiterSemicolon = ';'
	DelimiterComma     = ','
)

// ParseDelimiter accepts the literal delimiter or the upload form's option
// value ("1" for ';', "2" for ','). An empty value yields fallback.
func ParseDelimiter(v string, fallback rune) (rune, error) {
	switch strings.TrimSpace(v) {
	case "":
		if fallback == DelimiterSemicolon || fallback == DelimiterComma {
			return fallback, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDelimiter, string(fallback))
	case ";", "1":
		return DelimiterSemicolon, nil
	case ",", "2":
		return DelimiterComma, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDelimiter, v)
	}
}

// SourceOptions controls how a source is read.
type SourceOptions struct {
	Delimiter rune
	Encoding  string
	Size      int64 // total bytes, 0 if unknown
}

// RowStream reads data rows from a validated source.
type RowStream struct {
	Header []string

	reader *csv.Reader
	src    *SourceReader
}

// OpenSource checks that r is a delimited table whose first row is the import
// header and returns a stream positioned at the first data row.
func OpenSource(r io.Reader, opts SourceOptions) (*RowStream, error) {
	if opts.Delimiter != DelimiterSemicolon && opts.Delimiter != DelimiterComma {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDelimiter, string(opts.Delimiter))
	}

	src, err := NewSourceReader(r, opts.Size, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(src)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptySource
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := ValidateHeader(header); err != nil {
		return nil, err
	}

	return &RowStream{Header: header, reader: cr, src: src}, nil
}

// Next returns the next non-blank data row, or io.EOF at the end of the source.
func (s *RowStream) Next() (SourceRow, error) {
	for {
		cells, err := s.reader.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return SourceRow{}, fmt.Errorf("parse line %d: %w", perr.StartLine, err)
			}
			return SourceRow{}, err
		}
		if isEmptyRow(cells) {
			continue
		}
		line, _ := s.reader.FieldPos(0)
		return SourceRow{Line: line, Cells: cells}, nil
	}
}

// BytesRead returns the raw bytes consumed from the source.
func (s *RowStream) BytesRead() int64 {
	return s.src.Counter.BytesRead()
}

// ValidateHeader checks that header names the import columns positionally.
// Names are compared case-insensitively after cleaning; legacy aliases are
// accepted. Trailing blank cells are ignored.
func ValidateHeader(header []string) error {
	cells := trimTrailingBlank(header)
	if len(cells) != ColumnCount {
		return fmt.Errorf("%w: expected %d columns (%s), got %d",
			ErrHeaderMismatch, ColumnCount, strings.Join(Columns, ","), len(cells))
	}
	for i, cell := range cells {
		if !headerMatches(i, cell) {
			return fmt.Errorf("%w: column %d is %q, expected %q",
				ErrHeaderMismatch, i+1, CleanCell(cell), Columns[i])
		}
	}
	return nil
}

func headerMatches(col int, cell string) bool {
	name := CleanCell(cell)
	if strings.EqualFold(name, Columns[col]) {
		return true
	}
	for _, alias := range columnAliases[col] {
		if strings.EqualFold(name, alias) {
			return true
		}
	}
	return false
}

// CleanCell trims whitespace, a spreadsheet formula prefix and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else {
		s = strings.TrimPrefix(s, "=")
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
