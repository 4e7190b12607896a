// Package phone canonicalizes WhatsApp sender identifiers into the
// international form used as conversation and history keys.
package phone

import "strings"

// NationalLength is the length of a number without its country code.
const NationalLength = 10

// Normalizer applies the canonical form for one default country.
type Normalizer struct {
	CountryCode  string
	MobilePrefix string
}

// Normalize strips every non-digit, collapses the mobile gateway prefix that
// some clients insert after the country code, prepends the country code to
// bare national numbers and prefixes the result with "+". Applying it to its
// own output returns the same value.
func (n Normalizer) Normalize(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return ""
	}

	gateway := n.CountryCode + n.MobilePrefix
	if n.MobilePrefix != "" &&
		len(digits) == len(gateway)+NationalLength &&
		strings.HasPrefix(digits, gateway) {
		digits = n.CountryCode + digits[len(gateway):]
	}
	if len(digits) == NationalLength {
		digits = n.CountryCode + digits
	}
	return "+" + digits
}
