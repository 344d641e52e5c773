package bus

import "strings"

// Match reports whether a dot-delimited subject matches a pattern.
//
// Two wildcard classes exist: "*" matches exactly one segment, ">" matches
// one or more trailing segments and is only meaningful as the final pattern
// segment. Matching is structural, segment by segment, so it stays
// O(segments) and never touches a regexp.
func Match(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(subject, ".")

	for i, p := range pSegs {
		if p == ">" {
			// ">" must consume at least one segment.
			return i == len(pSegs)-1 && len(sSegs) > i
		}
		if i >= len(sSegs) {
			return false
		}
		if p != "*" && p != sSegs[i] {
			return false
		}
	}

	return len(pSegs) == len(sSegs)
}
