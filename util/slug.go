// Package util provides small, stateless helpers shared across the fleet
// manager. Functions here have no dependencies on other internal packages.
package util

import "strings"

// Slugify lowercases name and replaces every run of characters outside
// [a-z0-9] with a single hyphen, trimming leading/trailing hyphens.
// It is the first half of an agent_id ("slug(name) + '-' + 6-char suffix",
// spec §4.6); the random suffix is appended by GenerateSuffix.
func Slugify(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(lowered))
	prevHyphen := false
	for _, r := range lowered {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			prevHyphen = false
			continue
		}
		if !prevHyphen && b.Len() > 0 {
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
