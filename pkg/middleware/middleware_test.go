package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopgate/pkg/logger"
	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

func TestWithMerchant(t *testing.T) {
	ctx := context.Background()
	store := merchants.NewMemoryStore(logger.Nop())
	_, err := store.Upsert(ctx, merchants.Record{TenantID: "m1", ShopDomain: "shop1.example", AccessToken: "tok-abc", Active: true})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, merchants.Record{TenantID: "m2", ShopDomain: "shop2.example", AccessToken: "tok-def", Active: false})
	require.NoError(t, err)

	var got merchants.Credential
	h := WithMerchant(merchants.NewResolver(store), logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = CredentialFrom(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		status int
		code   problems.Kind
	}{
		{"missing header", "", http.StatusBadRequest, problems.MissingTenant},
		{"blank header", "   ", http.StatusBadRequest, problems.MissingTenant},
		{"unknown merchant", "nope", http.StatusNotFound, problems.UnknownTenant},
		{"inactive merchant", "m2", http.StatusForbidden, problems.InactiveTenant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
			if tc.header != "" {
				req.Header.Set(merchants.HeaderMerchantID, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), `"code":"`+string(tc.code)+`"`)
			assert.NotContains(t, rec.Body.String(), "tok-")
		})
	}

	t.Run("Should attach the credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set(merchants.HeaderMerchantID, "m1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "shop1.example", got.ShopDomain)
		assert.True(t, got.Valid())
	})
}

func TestRecover(t *testing.T) {
	h := RequestID()(Recover(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"internal"`)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("Should answer preflight for an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Merchant-Id")
	})

	t.Run("Should not echo other origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetrics_StatusRecorder(t *testing.T) {
	h := Metrics(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
