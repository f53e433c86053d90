// Package model defines the prospect, verdict and record types shared by the
// funnel, its integrations and the HTTP layer.
package model

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCountryCode is prefixed to national subscriber numbers when no
// country code is supplied.
const DefaultCountryCode = "+91"

// PhoneDigits is the fixed length of a national subscriber number.
const PhoneDigits = 10

// E.164 bounds for numbers that carry their own country code.
const (
	minIntlDigits = 8
	maxIntlDigits = 15
)

// MinNameLength is the minimum trimmed length of a prospect name.
const MinNameLength = 4

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Prospect is a person moving through the funnel. Email is the primary key
// across every integration.
type Prospect struct {
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone"`
	CountryCode string         `json:"country_code,omitempty"`
	UTM         UTMAttribution `json:"utm"`
}

// E164 returns the phone number with its country code prefixed. A number that
// already starts with '+' is returned unchanged.
func (p Prospect) E164() string {
	if p.Phone == "" || strings.HasPrefix(p.Phone, "+") {
		return p.Phone
	}
	cc := p.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}
	return cc + p.Phone
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s looks like local@domain.tld with no whitespace.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// LocalPart returns the portion of an address before the '@'.
func LocalPart(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	return local
}

// MaskEmail hides most of the local part so addresses can be logged.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(NormalizeEmail(email), "@")
	if !ok || local == "" {
		return "***"
	}
	r, _ := utf8.DecodeRuneInString(local)
	return string(r) + "***@" + domain
}

// ValidName reports whether the trimmed name is long enough.
func ValidName(s string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) >= MinNameLength
}

// NormalizePhone strips formatting and a leading country code, returning the
// national subscriber number. The result is not validated.
func NormalizePhone(raw, countryCode string) string {
	digits := digitsOf(raw)

	cc := strings.TrimPrefix(countryCode, "+")
	if cc == "" {
		cc = strings.TrimPrefix(DefaultCountryCode, "+")
	}
	if len(digits) == PhoneDigits+len(cc) && strings.HasPrefix(digits, cc) {
		digits = digits[len(cc):]
	}
	return digits
}

// InternationalPhone returns raw as '+' and its digits when it is written with
// its own country code, as in "+1 415 555 0100".
func InternationalPhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "+") {
		return "", false
	}
	digits := digitsOf(raw)
	if len(digits) < minIntlDigits || len(digits) > maxIntlDigits {
		return "", false
	}
	return "+" + digits, true
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether s is exactly PhoneDigits ASCII digits.
func ValidPhone(s string) bool {
	if len(s) != PhoneDigits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
