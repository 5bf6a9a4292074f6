package core

import (
	"strings"
	"unicode"
)

// NormalizeLocationCode upper-cases and trims each segment of a hierarchical
// ZONE-AISLE-BIN code. Segments must be non-empty and alphanumeric.
func NormalizeLocationCode(code string) (string, error) {
	parts := strings.Split(strings.TrimSpace(code), "-")
	for i, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			return "", invalid("location_code", "empty segment in %q", code)
		}
		for _, r := range p {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return "", invalid("location_code", "segment %q must be alphanumeric", p)
			}
		}
		parts[i] = p
	}
	return strings.Join(parts, "-"), nil
}

// ParentCode returns the enclosing code of a hierarchical location code:
// "A-01-03" -> "A-01", "A" -> "".
func ParentCode(code string) string {
	i := strings.LastIndex(code, "-")
	if i < 0 {
		return ""
	}
	return code[:i]
}
