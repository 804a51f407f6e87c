package core

import (
	"fmt"
	"strings"
)

// Column positions of the import schema.
const (
	ColEmail = iota
	ColStatus
	ColPassword
	ColFirstName
	ColLastName
	ColOrganization
	ColLocale
	ColTimezone

	ColumnCount
)

// Columns is the canonical header of an import source, in order.
var Columns = []string{
	"email",
	"status",
	"pass",
	"first_name",
	"last_name",
	"organization",
	"locale",
	"timezone",
}

// columnAliases lists legacy header names accepted in place of Columns.
var columnAliases = map[int][]string{
	ColFirstName:    {"field_profile_first_name"},
	ColLastName:     {"field_profile_last_name"},
	ColOrganization: {"field_profile_organization", "field_profile_organisation"},
	ColLocale:       {"langcode"},
}

// Decoded is the outcome of decoding one raw row.
type Decoded struct {
	Record   ImportRecord
	Rejected bool
	Reason   string
	Raw      []string
}

// DecodeRow turns raw cells into an ImportRecord.
//
// Rows with fewer than ColumnCount cells and rows without a syntactically valid
// email are rejected. An invalid status never rejects; it decodes as
// StatusUnspecified. Cells past ColumnCount are ignored.
func DecodeRow(raw []string) Decoded {
	d := Decoded{Raw: raw}

	if len(raw) < ColumnCount {
		d.Rejected = true
		d.Reason = fmt.Sprintf("expected %d columns, got %d", ColumnCount, len(raw))
		return d
	}

	rec := ImportRecord{
		Email:        NormalizeEmail(raw[ColEmail]),
		Status:       ParseStatus(strings.TrimSpace(raw[ColStatus])),
		Password:     SanitizePassword(raw[ColPassword]),
		FirstName:    strings.TrimSpace(raw[ColFirstName]),
		LastName:     strings.TrimSpace(raw[ColLastName]),
		Organization: strings.TrimSpace(raw[ColOrganization]),
		Locale:       stripSpace(raw[ColLocale]),
		Timezone:     stripSpace(raw[ColTimezone]),
	}
	d.Record = rec

	if !IsValidEmailSyntax(rec.Email) {
		d.Rejected = true
		d.Reason = "invalid email"
		return d
	}

	return d
}
