package core

import (
	"strings"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a@x.io", "a@x.io"},
		{"  a@x.io  ", "a@x.io"},
		{"a @ x.io", "a@x.io"},
		{"a\t@x.io\n", "a@x.io"},
		{" a@x.io", "a@x.io"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.input); got != tt.expected {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsValidEmailSyntax(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"simple", "a@x.io", true},
		{"plus tag", "first.last+tag@example.com", true},
		{"dotless domain", "admin@localhost", true},
		{"empty", "", false},
		{"no at", "nobody", false},
		{"no local part", "@x.io", false},
		{"no domain", "a@", false},
		{"two ats", "a@b@x.io", false},
		{"display name", "Alice <a@x.io>", false},
		{"list", "a@x.io,b@x.io", false},
		{"too long", strings.Repeat("a", 250) + "@x.io", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEmailSyntax(tt.email); got != tt.want {
				t.Errorf("IsValidEmailSyntax(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw   string
		want  StatusFlag
		valid bool
	}{
		{"1", StatusActive, true},
		{"0", StatusBlocked, true},
		{"", StatusUnspecified, false},
		{"yes", StatusUnspecified, false},
		{"2", StatusUnspecified, false},
		{"01", StatusUnspecified, false},
		{" 1", StatusUnspecified, false},
	}
	for _, tt := range tests {
		got := ParseStatus(tt.raw)
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tt.raw, got, tt.want)
		}
		if IsValidStatus(tt.raw) != tt.valid {
			t.Errorf("IsValidStatus(%q) = %v, want %v", tt.raw, !tt.valid, tt.valid)
		}
		if got.Valid() != tt.valid {
			t.Errorf("ParseStatus(%q).Valid() = %v, want %v", tt.raw, got.Valid(), tt.valid)
		}
	}
}

func TestStatusOrBlocked(t *testing.T) {
	if StatusUnspecified.OrBlocked() != StatusBlocked {
		t.Error("unspecified should fall back to blocked")
	}
	if StatusActive.OrBlocked() != StatusActive {
		t.Error("active should be kept")
	}
}

func TestSanitizePassword(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"p w", "pw"},
		{" secret ", "secret"},
		{"tab\there", "tabhere"},
		{"", ""},
		{"short", "short"},
	}
	for _, tt := range tests {
		if got := SanitizePassword(tt.input); got != tt.expected {
			t.Errorf("SanitizePassword(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsKnownLocale(t *testing.T) {
	set := NewLocaleSet("en", "fr", " de ", "")

	tests := []struct {
		code string
		want bool
	}{
		{"en", true},
		{"fr", true},
		{"de", true},
		{"", false},
		{"xx", false},
		{"EN", false},
		{"en-US", false},
	}
	for _, tt := range tests {
		if got := IsKnownLocale(tt.code, set); got != tt.want {
			t.Errorf("IsKnownLocale(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if IsKnownLocale("en", nil) {
		t.Error("nil set should accept nothing")
	}
}

func TestIsKnownTimezone(t *testing.T) {
	t.Run("iana", func(t *testing.T) {
		tests := []struct {
			id   string
			want bool
		}{
			{"Europe/Paris", true},
			{"America/New_York", true},
			{"UTC", true},
			{"Mars/Base", false},
			{"Local", false},
			{"", false},
		}
		for _, tt := range tests {
			if got := IsKnownTimezone(tt.id, IANAZones{}); got != tt.want {
				t.Errorf("IsKnownTimezone(%q) = %v, want %v", tt.id, got, tt.want)
			}
		}
	})

	t.Run("list", func(t *testing.T) {
		zones := NewZoneList("UTC", "Europe/Paris")
		if !IsKnownTimezone("Europe/Paris", zones) {
			t.Error("listed zone rejected")
		}
		if IsKnownTimezone("America/New_York", zones) {
			t.Error("unlisted zone accepted")
		}
	})

	t.Run("nil set", func(t *testing.T) {
		if IsKnownTimezone("UTC", nil) {
			t.Error("nil set should accept nothing")
		}
	})

	t.Run("zone set from config", func(t *testing.T) {
		if _, ok := NewZoneSet().(IANAZones); !ok {
			t.Error("empty list should fall back to the tz database")
		}
		if _, ok := NewZoneSet(" ", "").(IANAZones); !ok {
			t.Error("blank entries should fall back to the tz database")
		}
		zones := NewZoneSet("UTC", " Europe/Prague ")
		if !IsKnownTimezone("Europe/Prague", zones) || IsKnownTimezone("Europe/Paris", zones) {
			t.Errorf("NewZoneSet(UTC, Europe/Prague) = %v", zones)
		}
	})
}
