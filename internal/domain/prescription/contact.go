package prescription

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidContact marks a phone or email that cannot be normalized.
var ErrInvalidContact = errors.New("invalid contact details")

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}$`)

// NormalizePhone canonicalizes raw into +<countryCode> followed by the
// ten-digit national number. All characters except digits and a leading plus
// are stripped; a national trunk zero is replaced by the country code and a
// bare country-code prefix gains the plus. Anything that does not reduce to
// that shape is ErrInvalidContact.
func NormalizePhone(raw, countryCode string) (string, error) {
	var b strings.Builder
	hasPlus := false
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			hasPlus = true
		}
	}
	digits := b.String()

	switch {
	case hasPlus:
		// country code must already be dialed
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case strings.HasPrefix(digits, countryCode):
		// bare country code, just missing the plus
	default:
		return "", ErrInvalidContact
	}

	if !strings.HasPrefix(digits, countryCode) || len(digits) != len(countryCode)+10 {
		return "", ErrInvalidContact
	}
	return "+" + digits, nil
}

// NormalizeEmail lowercases and validates raw as a plain local@domain address.
func NormalizeEmail(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(s) {
		return "", ErrInvalidContact
	}
	return s, nil
}
