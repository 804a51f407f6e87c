package core

import (
	"errors"
	"io"
	"strings"
	"testing"
)

const testHeader = "email,status,pass,first_name,last_name,organization,locale,timezone"

func readAll(t *testing.T, s *RowStream) []SourceRow {
	t.Helper()
	var rows []SourceRow
	for {
		r, err := s.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		rows = append(rows, r)
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		value    string
		fallback rune
		want     rune
		wantErr  bool
	}{
		{";", 0, ';', false},
		{",", 0, ',', false},
		{"1", 0, ';', false},
		{"2", 0, ',', false},
		{" ; ", 0, ';', false},
		{"", ',', ',', false},
		{"", ';', ';', false},
		{"", 0, 0, true},
		{"\t", ',', 0, true},
		{"|", ',', 0, true},
		{"3", ',', 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDelimiter(tt.value, tt.fallback)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedDelimiter) {
				t.Errorf("ParseDelimiter(%q) err = %v, want ErrUnsupportedDelimiter", tt.value, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDelimiter(%q, %q) = %q, %v; want %q", tt.value, tt.fallback, got, err, tt.want)
		}
	}
}

func TestOpenSource(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		delim   rune
		wantErr error
	}{
		{"canonical header", testHeader + "\n", ',', nil},
		{"semicolon", strings.ReplaceAll(testHeader, ",", ";") + "\n", ';', nil},
		{"case and spacing", "EMAIL, Status ,PASS,First_Name,last_name,organization,locale,timezone\n", ',', nil},
		{"legacy aliases", "email,status,pass,field_profile_first_name,field_profile_last_name,field_profile_organisation,langcode,timezone\n", ',', nil},
		{"trailing blank cells", testHeader + ",,\n", ',', nil},
		{"bom", "\xEF\xBB\xBF" + testHeader + "\n", ',', nil},
		{"excel quoted header", `="email",status,pass,first_name,last_name,organization,locale,timezone` + "\n", ',', nil},
		{"empty file", "", ',', ErrEmptySource},
		{"swapped columns", "email,pass,status,first_name,last_name,organization,locale,timezone\n", ',', ErrHeaderMismatch},
		{"missing column", "email,status,pass,first_name,last_name,organization,locale\n", ',', ErrHeaderMismatch},
		{"extra column", testHeader + ",notes\n", ',', ErrHeaderMismatch},
		{"wrong delimiter", testHeader + "\n", ';', ErrHeaderMismatch},
		{"tab delimiter", testHeader + "\n", '\t', ErrUnsupportedDelimiter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenSource(strings.NewReader(tt.input), SourceOptions{Delimiter: tt.delim})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenSource: %v", err)
			}
			if len(s.Header) < ColumnCount {
				t.Errorf("Header = %v", s.Header)
			}
		})
	}
}

func TestRowStreamSkipsBlankRows(t *testing.T) {
	input := testHeader + "\n" +
		"a@x.com,1,,,,,,\n" +
		"\n" +
		",,,,,,,\n" +
		"  ,  ,,,,,,\n" +
		"b@x.com,0,,,,,,\n"

	s, err := OpenSource(strings.NewReader(input), SourceOptions{Delimiter: ','})
	if err != nil {
		t.Fatal(err)
	}
	rows := readAll(t, s)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Line != 2 || rows[0].Cells[0] != "a@x.com" {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[1].Line != 6 || rows[1].Cells[0] != "b@x.com" {
		t.Errorf("second row = %+v", rows[1])
	}
	if s.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", s.BytesRead(), len(input))
	}
}

func TestRowStreamRaggedRows(t *testing.T) {
	input := testHeader + "\nshort@x.com,1\nlong@x.com,1,,,,,,,extra\n"
	s, err := OpenSource(strings.NewReader(input), SourceOptions{Delimiter: ','})
	if err != nil {
		t.Fatal(err)
	}
	rows := readAll(t, s)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if len(rows[0].Cells) != 2 || len(rows[1].Cells) != 9 {
		t.Errorf("cell counts = %d, %d", len(rows[0].Cells), len(rows[1].Cells))
	}
}

func TestRowStreamQuotedMultiline(t *testing.T) {
	input := testHeader + "\n" +
		"a@x.com,1,,\"Ann\nMarie\",Lee,,,\n" +
		"b@x.com,1,,,,,,\n"
	s, err := OpenSource(strings.NewReader(input), SourceOptions{Delimiter: ','})
	if err != nil {
		t.Fatal(err)
	}
	rows := readAll(t, s)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Cells[ColFirstName] != "Ann\nMarie" {
		t.Errorf("first name = %q", rows[0].Cells[ColFirstName])
	}
	if rows[1].Line != 4 {
		t.Errorf("second row line = %d, want 4", rows[1].Line)
	}
}

func TestValidateHeaderMessage(t *testing.T) {
	err := ValidateHeader([]string{"mail", "status", "pass", "first_name", "last_name", "organization", "locale", "timezone"})
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), `column 1 is "mail", expected "email"`) {
		t.Errorf("err = %q", err)
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple string unchanged", "hello", "hello"},
		{"empty string", "", ""},
		{"leading whitespace", "  hello", "hello"},
		{"trailing whitespace", "hello  ", "hello"},
		{"Excel formula with quotes", `="hello"`, "hello"},
		{"Excel formula without quotes", "=hello", "hello"},
		{"double quoted", `"hello"`, "hello"},
		{"single quoted", "'hello'", "hello"},
		{"quoted with inner spaces", `"  hello  "`, "hello"},
		{"lone equals", "=", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
