package urlutil

import "regexp"

// CompilePatterns compiles every regex once, up front. Patterns are never
// compiled per URL: that would re-pay compilation on every link and widen
// the ReDoS surface with caller-supplied input.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &PatternError{Pattern: p, Reason: err.Error()}
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Matches reports whether raw passes the include/exclude pattern sets:
// (include empty OR any include matches) AND no exclude matches.
func Matches(raw string, include, exclude []*regexp.Regexp) bool {
	if len(include) > 0 {
		var hit bool
		for _, re := range include {
			if re.MatchString(raw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, re := range exclude {
		if re.MatchString(raw) {
			return false
		}
	}
	return true
}

// Filter returns the URLs passing Matches, preserving order.
func Filter(urls []string, include, exclude []*regexp.Regexp) []string {
	filtered := make([]string, 0, len(urls))
	for _, u := range urls {
		if Matches(u, include, exclude) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}
