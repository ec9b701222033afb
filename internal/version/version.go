// Package version resolves locale-prefixed upstream version branches.
//
// Upstream publishes one branch per released version, named "{locale}-{N}"
// (for example "gb-27"). Versions are ordered by their numeric suffix, never
// lexicographically, so "gb-10" sorts after "gb-9".
package version

import (
	"fmt"
	"regexp"
	"strconv"
)

// Sentinel returns the marker value used before any version has been synced.
func Sentinel(locale string) string {
	return fmt.Sprintf("%s-0", locale)
}

// pattern builds the branch-name matcher for a locale. The suffix must be a
// plain non-negative integer with no extra characters.
func pattern(locale string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(locale) + `-(\d+)$`)
}

// Parse extracts the numeric suffix from a version branch name.
// It returns false if the name does not match "{locale}-{digits}".
func Parse(locale, branch string) (int, bool) {
	m := pattern(locale).FindStringSubmatch(branch)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		// Matched digits too large for int. Treat as non-matching rather
		// than guessing an order for it.
		return 0, false
	}
	return n, true
}

// Latest returns the branch with the highest numeric suffix among the given
// upstream branch names. It returns false when no branch matches the locale
// pattern, which callers treat as "nothing to do" rather than an error.
func Latest(locale string, branches []string) (string, bool) {
	best := -1
	var bestName string
	for _, b := range branches {
		n, ok := Parse(locale, b)
		if !ok {
			continue
		}
		if n > best {
			best = n
			bestName = b
		}
	}
	if best < 0 {
		return "", false
	}
	return bestName, true
}
