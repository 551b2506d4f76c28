package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate reduces OCR or operator input to the plate key used for
// storage and lookup: upper-case letters and digits only.
func NormalizePlate(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return unicode.ToUpper(r)
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, raw)
}
