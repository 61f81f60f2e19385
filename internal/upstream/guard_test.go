package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopgate/pkg/problems"
)

func TestCheckPassthrough(t *testing.T) {
	ok := []struct{ method, path, want string }{
		{"GET", "/products.json", "GET"},
		{"get", "/products/123/variants.json", "GET"},
		{"", "/shop.json", "GET"},
		{"DELETE", "/products/1.json", "DELETE"},
		{"put", "/orders/1.json", "PUT"},
	}
	for _, tc := range ok {
		m, err := CheckPassthrough(tc.method, tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, m)
	}

	bad := []struct{ method, path string }{
		{"PATCH", "/products.json"},
		{"TRACE", "/products.json"},
		{"GET", ""},
		{"GET", "products.json"},
		{"GET", "https://evil.example/x.json"},
		{"GET", "//evil.example/x.json"},
		{"GET", "/../../oauth/access_token.json"},
		{"GET", "/products%2F..%2Fx.json"},
		{"GET", "/user@evil.example.json"},
		{"GET", "/products\\x.json"},
		{"GET", "/products.json?host=evil"},
		{"GET", "/products"},
		{"GET", "/products.xml"},
	}
	for _, tc := range bad {
		_, err := CheckPassthrough(tc.method, tc.path)
		assert.Equal(t, problems.InvalidRequest, problems.KindOf(err), tc.method+" "+tc.path)
	}
}
