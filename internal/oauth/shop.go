package oauth

import (
	"regexp"
	"strings"
)

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// SanitizeShopDomain strips a scheme, any path and surrounding slashes, and
// lower-cases the host.
func SanitizeShopDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "/")
}

// ValidShopDomain reports whether d is a plain hostname ending in suffix.
// An empty suffix accepts any hostname with at least two labels.
func ValidShopDomain(d, suffix string) bool {
	if len(d) > 253 || !hostnameRe.MatchString(d) {
		return false
	}
	if suffix == "" {
		return true
	}
	suffix = strings.ToLower(suffix)
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return strings.HasSuffix(d, suffix) && len(d) > len(suffix)
}
