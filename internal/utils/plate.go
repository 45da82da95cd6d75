package utils

import "strings"

// NormalizePlate uppercases a raw plate string and strips separators and
// whitespace so "22 bh-6517.a" and "22BH6517A" key the same records.
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(plate)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
