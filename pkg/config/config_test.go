package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SHOPIFY_SCOPES", "")
	t.Setenv("HANDSHAKE_TTL_SEC", "")
	cfg := Load()
	assert.Equal(t, "2024-01", cfg.ShopifyAPIVersion)
	assert.Equal(t, []string{"read_products", "read_orders", "read_customers"}, cfg.ShopifyScopes)
	assert.Equal(t, 10*time.Minute, cfg.HandshakeTTL)
	assert.Equal(t, 5*time.Minute, cfg.CallbackMaxSkew)
	assert.Equal(t, ".myshopify.com", cfg.ShopDomainSuffix)
	assert.True(t, cfg.VerifyCallbackHMAC)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SHOPIFY_SCOPES", " read_products , ,write_orders")
	t.Setenv("HANDSHAKE_TTL_SEC", "30")
	t.Setenv("VERIFY_CALLBACK_HMAC", "false")
	t.Setenv("UPSTREAM_TIMEOUT_SEC", "not-a-number")
	cfg := Load()
	assert.Equal(t, []string{"read_products", "write_orders"}, cfg.ShopifyScopes)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTTL)
	assert.False(t, cfg.VerifyCallbackHMAC)
	assert.Equal(t, 15*time.Second, cfg.UpstreamTimeout)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Env:               "dev",
		ShopifyAPIKey:     "key",
		ShopifyAPISecret:  "secret",
		ShopifyAPIVersion: "2024-01",
		ShopifyScopes:     []string{"read_products"},
		OAuthRedirectURL:  "https://gw.example/api/oauth/callback",
		HandshakeTTL:      time.Minute,
		UpstreamTimeout:   time.Second,
	}
	require.NoError(t, valid.Validate())

	t.Run("reports every missing field", func(t *testing.T) {
		err := Config{}.Validate()
		require.Error(t, err)
		for _, want := range []string{"SHOPIFY_API_KEY", "SHOPIFY_API_SECRET", "OAUTH_REDIRECT_URL", "SHOPIFY_SCOPES", "HANDSHAKE_TTL_SEC"} {
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("prod requires encryption key", func(t *testing.T) {
		c := valid
		c.Env = "prod"
		assert.ErrorContains(t, c.Validate(), "ENCRYPTION_KEY")
		c.EncryptionKey = "k"
		assert.NoError(t, c.Validate())
	})

	t.Run("issuer and jwks go together", func(t *testing.T) {
		c := valid
		c.JWKSURL = "https://idp.example/jwks"
		assert.ErrorContains(t, c.Validate(), "OIDC_ISSUER")
	})
}
