package upstream

import (
	"net/http"
	"regexp"
	"strings"

	"shopgate/pkg/problems"
)

var passthroughPath = regexp.MustCompile(`^(/[A-Za-z0-9_-]+)+\.json$`)

var passthroughMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// CheckPassthrough validates a relative upstream path and method and returns
// the normalized method. Paths are resolved under the shop's versioned admin
// API root only, so absolute URLs, traversal and encoded separators are
// rejected.
func CheckPassthrough(method, path string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	if !passthroughMethods[m] {
		return "", problems.New(problems.InvalidRequest, "method %q not allowed", method)
	}
	switch {
	case path == "":
		return "", problems.New(problems.InvalidRequest, "path is required")
	case strings.Contains(path, "://"),
		strings.Contains(path, ".."),
		strings.Contains(path, "//"),
		strings.ContainsAny(path, "@\\%?#"):
		return "", problems.New(problems.InvalidRequest, "path %q is not a relative API path", path)
	case !passthroughPath.MatchString(path):
		return "", problems.New(problems.InvalidRequest, "path must look like /resource[/id].json")
	}
	return m, nil
}
