package domain

import (
	"regexp"
	"strings"
)

var flagCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidFlagCode reports whether a GTU or procedure code can be written as an
// element name once normalized. Blank codes are dropped on input and pass.
func ValidFlagCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code == "" || flagCodePattern.MatchString(code)
}
