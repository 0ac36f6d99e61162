package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

// Normalize applies a deterministic canonicalization to a raw URL, mapping
// equivalent spellings to a single representation.
//
// Rules:
//   - Scheme and host are lowercased
//   - Default ports are dropped (:80 for http, :443 for https)
//   - Query parameters are sorted lexicographically by key, values verbatim
//   - Fragments are removed
//   - An empty path becomes "/"
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Normalize(Normalize(u)) == Normalize(u)
//
// Non-absolute, non-http(s), or unparseable inputs fail with ErrInvalidURL.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &InvalidURLError{Raw: raw, Reason: err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return "", &InvalidURLError{Raw: raw, Reason: "not an absolute URL"}
	}

	u.Scheme = lowerASCII(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &InvalidURLError{Raw: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	u.Host = lowerASCII(u.Host)

	if host, port := u.Hostname(), u.Port(); port != "" {
		if (u.Scheme == "http" && port == "80") ||
			(u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = sortQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// sortQuery orders raw query segments lexicographically by key while keeping
// each segment's text verbatim. url.Values.Encode is avoided on purpose: it
// re-encodes values, which must be preserved as found.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	segments := strings.Split(rawQuery, "&")
	sort.SliceStable(segments, func(i, j int) bool {
		return queryKey(segments[i]) < queryKey(segments[j])
	})
	return strings.Join(segments, "&")
}

func queryKey(segment string) string {
	if idx := strings.IndexByte(segment, '='); idx != -1 {
		return segment[:idx]
	}
	return segment
}

// Resolve resolves candidate against base per standard URL reference
// resolution. Absolute candidates are returned unchanged.
func Resolve(candidate, base string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(candidate))
	if err != nil {
		return "", &InvalidURLError{Raw: candidate, Reason: err.Error()}
	}
	if ref.IsAbs() {
		return candidate, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", &InvalidURLError{Raw: base, Reason: err.Error()}
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// Domain extracts the lowercased host component (port stripped) of a URL.
// Unparseable or hostless input yields "".
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return lowerASCII(u.Hostname())
}

// SameDomain reports whether the URL's host equals domain or is a subdomain
// of it ("docs.a.test" is inside "a.test").
func SameDomain(raw, domain string) bool {
	host := Domain(raw)
	if host == "" || domain == "" {
		return false
	}
	domain = lowerASCII(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// lowerASCII converts ASCII characters to lowercase without allocating when
// the input is already lowercase.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
