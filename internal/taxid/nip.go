// Package taxid validates taxpayer identifiers.
package taxid

import "strings"

// nipWeights are applied to the first nine digits of a NIP.
var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// Normalize strips every non-digit character, so "521-301-72-28" and
// "PL5213017228" both normalize to "5213017228".
func Normalize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidNIP reports whether value is a NIP with a correct mod-11 check digit.
// A weighted sum of 10 (mod 11) can never match a single digit, so those
// identifiers are rejected.
func ValidNIP(value string) bool {
	digits := Normalize(value)
	if len(digits) != 10 {
		return false
	}

	sum := 0
	for i, w := range nipWeights {
		sum += int(digits[i]-'0') * w
	}
	return sum%11 == int(digits[9]-'0')
}

// CheckDigit returns the expected tenth digit for a nine digit prefix, or
// -1 when the prefix is malformed or no valid check digit exists.
func CheckDigit(prefix string) int {
	digits := Normalize(prefix)
	if len(digits) != 9 {
		return -1
	}
	sum := 0
	for i, w := range nipWeights {
		sum += int(digits[i]-'0') * w
	}
	if sum%11 == 10 {
		return -1
	}
	return sum % 11
}
