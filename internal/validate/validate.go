// Package validate holds the lexical input checks used by the intake dialogue.
package validate

import (
	"regexp"
	"strings"
)

var (
	taxIDPattern = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}-?\d{2}$`)
	datePattern  = regexp.MustCompile(`^([0-2]\d|3[0-1])/(0\d|1[0-2])/\d{4}$`)
)

// TaxID reports whether s looks like a CPF: 11 digits, optionally written
// as 000.000.000-00. The check digits are not verified.
func TaxID(s string) bool {
	return taxIDPattern.MatchString(strings.TrimSpace(s))
}

// Date reports whether s is shaped like DD/MM/YYYY.
//
// This is a format check only. Calendar-impossible values such as
// 31/02/2025 or 00/00/0000 are accepted.
func Date(s string) bool {
	return datePattern.MatchString(strings.TrimSpace(s))
}
