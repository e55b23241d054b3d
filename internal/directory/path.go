package directory

import "strings"

// dirKey normalizes a directory query into its "a/b/" form.
//
// One leading slash is removed and one trailing slash ensured. Paths with an
// empty segment are rejected, as is the empty string. root is set for "/".
func dirKey(p string) (key string, root, ok bool) {
	if p == "" {
		return "", false, false
	}
	if p == "/" {
		return "", true, true
	}
	p = strings.TrimPrefix(p, "/")
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "//") {
		return "", false, false
	}
	return p, false, true
}

// isRoot reports whether a listing prefix addresses the archive root.
func isRoot(prefix string) bool {
	return prefix == "" || prefix == "/"
}

// firstSegment returns the leading path segment of rest and whether it is
// non-empty.
func firstSegment(rest string) (string, bool) {
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}
