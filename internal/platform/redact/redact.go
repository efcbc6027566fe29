// Package redact masks identifiers before they reach a log line.
package redact

const masked = "***"

// Mask reveals at most the first 3 and last 2 characters of s.
// Values of 6 characters or fewer are fully masked.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 6 {
		return masked
	}
	return string(r[:3]) + masked + string(r[len(r)-2:])
}
