package core

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// NormalizeEmail removes every whitespace character from raw.
func NormalizeEmail(raw string) string {
	return stripSpace(raw)
}

// IsValidEmailSyntax reports whether email is a single bare address with a
// non-empty local part and domain.
func IsValidEmailSyntax(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

// IsValidStatus reports whether raw is exactly "1" or "0".
func IsValidStatus(raw string) bool {
	return raw == "1" || raw == "0"
}

// ParseStatus maps "1" to Active, "0" to Blocked and anything else to Unspecified.
func ParseStatus(raw string) StatusFlag {
	if !IsValidStatus(raw) {
		return StatusUnspecified
	}
	if raw == "1" {
		return StatusActive
	}
	return StatusBlocked
}

// SanitizePassword removes every whitespace character. No strength rules apply.
func SanitizePassword(raw string) string {
	return stripSpace(raw)
}

// LocaleSet is the set of locale codes the identity system accepts.
type LocaleSet map[string]struct{}

// NewLocaleSet builds a LocaleSet from codes.
func NewLocaleSet(codes ...string) LocaleSet {
	s := make(LocaleSet, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			s[c] = struct{}{}
		}
	}
	return s
}

// IsKnownLocale reports whether code is in set. Matching is exact.
func IsKnownLocale(code string, set LocaleSet) bool {
	if code == "" {
		return false
	}
	_, ok := set[code]
	return ok
}

// ZoneSet decides which timezone identifiers are accepted.
type ZoneSet interface {
	Contains(id string) bool
}

// ZoneList is an explicit allow-list of timezone identifiers.
type ZoneList map[string]struct{}

// NewZoneList builds a ZoneList from ids.
func NewZoneList(ids ...string) ZoneList {
	z := make(ZoneList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			z[id] = struct{}{}
		}
	}
	return z
}

func (z ZoneList) Contains(id string) bool {
	_, ok := z[id]
	return ok
}

// IANAZones accepts any identifier the tz database can load, except "Local".
// Binaries that use it should import time/tzdata.
type IANAZones struct{}

func (IANAZones) Contains(id string) bool {
	if id == "" || id == "Local" {
		return false
	}
	_, err := time.LoadLocation(id)
	return err == nil
}

// NewZoneSet returns a ZoneList of ids, or IANAZones when ids has no
// non-blank entry.
func NewZoneSet(ids ...string) ZoneSet {
	z := NewZoneList(ids...)
	if len(z) == 0 {
		return IANAZones{}
	}
	return z
}

// IsKnownTimezone reports whether id is accepted by set.
func IsKnownTimezone(id string, set ZoneSet) bool {
	if id == "" || set == nil {
		return false
	}
	return set.Contains(id)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
