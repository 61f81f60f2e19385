package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Shopify app credentials and OAuth settings
	ShopifyAPIKey      string
	ShopifyAPISecret   string
	ShopifyAPIVersion  string
	ShopifyScopes      []string
	OAuthRedirectURL   string
	ShopDomainSuffix   string        // required suffix for shop domains; empty accepts any hostname
	HandshakeTTL       time.Duration // lifetime of an unconsumed OAuth state
	VerifyCallbackHMAC bool
	CallbackMaxSkew    time.Duration

	UpstreamTimeout    time.Duration
	UpstreamPolicyFile string // optional rego module replacing the embedded scope policy

	// At-rest encryption for access tokens
	EncryptionKey string

	// Optional caller authentication (bearer JWT)
	Issuer   string
	Audience string
	JWKSURL  string

	CORSOrigins []string

	// Redis & Postgres
	RedisURL         string
	DatabaseURL      string
	MerchantSeedFile string // YAML seed for the in-memory store
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                env("SHOPGATE_ENV", "dev"),
		HTTPAddr:           env("SHOPGATE_HTTP_ADDR", ":8000"),
		ShopifyAPIKey:      env("SHOPIFY_API_KEY", ""),
		ShopifyAPISecret:   env("SHOPIFY_API_SECRET", ""),
		ShopifyAPIVersion:  env("SHOPIFY_API_VERSION", "2024-01"),
		ShopifyScopes:      envList("SHOPIFY_SCOPES", "read_products,read_orders,read_customers"),
		OAuthRedirectURL:   env("OAUTH_REDIRECT_URL", ""),
		ShopDomainSuffix:   env("SHOP_DOMAIN_SUFFIX", ".myshopify.com"),
		HandshakeTTL:       envDur("HANDSHAKE_TTL_SEC", 600) * time.Second,
		VerifyCallbackHMAC: envBool("VERIFY_CALLBACK_HMAC", true),
		CallbackMaxSkew:    envDur("CALLBACK_MAX_SKEW_SEC", 300) * time.Second,
		UpstreamTimeout:    envDur("UPSTREAM_TIMEOUT_SEC", 15) * time.Second,
		UpstreamPolicyFile: env("UPSTREAM_POLICY_FILE", ""),
		EncryptionKey:      env("ENCRYPTION_KEY", ""),
		Issuer:             env("OIDC_ISSUER", ""),
		Audience:           env("OIDC_AUDIENCE", "shopgate"),
		JWKSURL:            env("JWKS_URL", ""),
		CORSOrigins:        envList("CORS_ORIGINS", "*"),
		RedisURL:           env("REDIS_URL", ""),
		DatabaseURL:        env("DATABASE_URL", ""),
		MerchantSeedFile:   env("MERCHANT_SEED_FILE", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory merchant store for dev")
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, OAuth handshake state is process-local")
	}
	return cfg
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.ShopifyAPIKey == "" {
		errs = append(errs, errors.New("SHOPIFY_API_KEY is required"))
	}
	if c.ShopifyAPISecret == "" {
		errs = append(errs, errors.New("SHOPIFY_API_SECRET is required"))
	}
	if c.OAuthRedirectURL == "" {
		errs = append(errs, errors.New("OAUTH_REDIRECT_URL is required"))
	}
	if len(c.ShopifyScopes) == 0 {
		errs = append(errs, errors.New("SHOPIFY_SCOPES must list at least one scope"))
	}
	if c.ShopifyAPIVersion == "" {
		errs = append(errs, errors.New("SHOPIFY_API_VERSION is required"))
	}
	if c.HandshakeTTL <= 0 {
		errs = append(errs, errors.New("HANDSHAKE_TTL_SEC must be positive"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT_SEC must be positive"))
	}
	if c.Env == "prod" && c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required in prod"))
	}
	if (c.JWKSURL == "") != (c.Issuer == "") {
		errs = append(errs, errors.New("OIDC_ISSUER and JWKS_URL must be set together"))
	}
	return errors.Join(errs...)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return time.Duration(def)
		}
		return time.Duration(i)
	}
	return time.Duration(def)
}

// envList splits a comma separated value, dropping blanks.
func envList(k, def string) []string {
	var out []string
	for _, p := range strings.Split(env(k, def), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
