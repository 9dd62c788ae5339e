package models

import "strings"

// patternsIntersect reports whether any claim in a may cover a path that a
// claim in b also covers.
func patternsIntersect(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if patternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

// patternsOverlap compares two file claims. A claim is an exact path, a
// directory prefix (trailing slash), or a glob where * matches within one
// path segment and ** spans segments. Two globs are compared through their
// literal directory prefixes, which errs toward reporting an overlap; a
// false positive only delays a task, never corrupts one.
func patternsOverlap(a, b string) bool {
	aGlob := strings.Contains(a, "*")
	bGlob := strings.Contains(b, "*")
	switch {
	case aGlob && bGlob:
		return prefixesNest(literalPrefix(a), literalPrefix(b))
	case aGlob:
		return globClaims(a, b)
	case bGlob:
		return globClaims(b, a)
	}

	if a == b {
		return true
	}
	// A directory claim covers everything beneath it.
	if strings.HasSuffix(a, "/") && strings.HasPrefix(b, a) {
		return true
	}
	if strings.HasSuffix(b, "/") && strings.HasPrefix(a, b) {
		return true
	}
	return false
}

// globClaims reports whether the glob could cover the exact path or
// directory claim.
func globClaims(glob, claim string) bool {
	if strings.HasSuffix(claim, "/") {
		return prefixesNest(literalPrefix(glob), claim)
	}
	return matchGlob(claim, glob)
}

// literalPrefix returns the fixed directory part of a glob: everything up to
// the last slash before its first wildcard. "src/auth/**" yields "src/auth/",
// "**/auth/**" yields "".
func literalPrefix(glob string) string {
	star := strings.Index(glob, "*")
	if star < 0 {
		star = len(glob)
	}
	slash := strings.LastIndex(glob[:star], "/")
	if slash == -1 {
		return ""
	}
	return glob[:slash+1]
}

// prefixesNest reports whether one directory prefix contains the other. The
// empty prefix contains everything.
func prefixesNest(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// matchGlob matches a slash-separated path against a glob pattern.
func matchGlob(path, pattern string) bool {
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head, rest := pattern[0], pattern[1:]
	if head == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}
	if !matchSegment(path[0], head) {
		return false
	}
	return matchSegments(path[1:], rest)
}

// matchSegment matches a single path segment against a pattern segment that
// may contain * wildcards.
func matchSegment(segment, pattern string) bool {
	if pattern == "*" || pattern == segment {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(segment, part) {
				return false
			}
			pos = len(part)
		case i == len(parts)-1 && !strings.HasSuffix(pattern, "*"):
			if !strings.HasSuffix(segment, part) || len(segment)-len(part) < pos {
				return false
			}
		default:
			idx := strings.Index(segment[pos:], part)
			if idx == -1 {
				return false
			}
			pos += idx + len(part)
		}
	}
	return true
}
