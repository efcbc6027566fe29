package domain

import (
	"regexp"
	"strings"
)

var platePrefix = regexp.MustCompile(`^\s*\([^)]*\)\s*`)

// NormalizePlate strips the bracketed conductor prefix from a plate and trims it,
// e.g. "(2550)524EY02" -> "524EY02". Plates without a prefix are only trimmed.
func NormalizePlate(s string) string {
	return strings.TrimSpace(platePrefix.ReplaceAllString(s, ""))
}

// NormalizeTerminalCode trims surrounding whitespace from a user-entered terminal code.
func NormalizeTerminalCode(s string) TerminalCode {
	return TerminalCode(strings.TrimSpace(s))
}
