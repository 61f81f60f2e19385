// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"shopgate/pkg/config"
	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu    sync.RWMutex
	sets  map[string]cachedJWKS
	fetch func(ctx context.Context, url string) (jwk.Set, error)
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	fetch := c.fetch
	if fetch == nil {
		fetch = func(ctx context.Context, url string) (jwk.Set, error) { return jwk.Fetch(ctx, url) }
	}
	set, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

type ctxTokenKey struct{}

// CallerAuth verifies an optional bearer JWT issued to the calling
// application. It is a pass-through when JWKS_URL is not configured, and in
// dev for requests without an Authorization header. A token that names a
// merchant (merchant_id or tid claim) may only act for that merchant.
func CallerAuth(cfg config.Config, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return callerAuth(cfg, log, &jwksCache{})
}

func callerAuth(cfg config.Config, log *zap.SugaredLogger, cache *jwksCache) func(http.Handler) http.Handler {
	jwksTTL := 6 * time.Hour
	issuer := strings.TrimRight(cfg.Issuer, "/")
	return func(next http.Handler) http.Handler {
		if cfg.JWKSURL == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if cfg.Env == "dev" && strings.TrimSpace(authz) == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				problems.Write(w, problems.New(problems.Unauthenticated, "missing bearer token"))
				return
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])

			set, err := cache.get(r.Context(), cfg.JWKSURL, jwksTTL)
			if err != nil {
				log.Errorw("jwks fetch failed", "url", cfg.JWKSURL, "err", err)
				problems.Write(w, problems.Wrap(problems.Internal, err, "jwks fetch failed"))
				return
			}
			parseOpts := []jwt.ParseOption{
				jwt.WithKeySet(set),
				jwt.WithValidate(true),
				jwt.WithVerify(true),
				jwt.WithAcceptableSkew(30 * time.Second),
			}
			if issuer != "" {
				parseOpts = append(parseOpts, jwt.WithIssuer(issuer))
			}
			if cfg.Audience != "" {
				parseOpts = append(parseOpts, jwt.WithAudience(cfg.Audience))
			}
			jt, err := jwt.Parse([]byte(raw), parseOpts...)
			if err != nil {
				problems.Write(w, problems.New(problems.Unauthenticated, "invalid token"))
				return
			}
			if bound := boundMerchant(jt); bound != "" {
				if hdr := strings.TrimSpace(r.Header.Get(merchants.HeaderMerchantID)); hdr != "" && hdr != bound {
					log.Warnw("merchant mismatch", "sub", jt.Subject(), "token_merchant", bound, "header_merchant", hdr)
					problems.Write(w, problems.New(problems.Forbidden, "token is not valid for merchant %q", hdr))
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxTokenKey{}, jt)))
		})
	}
}

func boundMerchant(jt jwt.Token) string {
	for _, claim := range []string{"merchant_id", "tid"} {
		if v, ok := jt.Get(claim); ok {
			if s, _ := v.(string); s != "" {
				return s
			}
		}
	}
	return ""
}

// BoundMerchant returns the merchant the verified caller token is limited to,
// or "" when there is no token or it names no merchant. Handlers that take a
// merchant id from anywhere other than X-Merchant-Id must check it against this.
func BoundMerchant(ctx context.Context) string {
	if jt, ok := ctx.Value(ctxTokenKey{}).(jwt.Token); ok {
		return boundMerchant(jt)
	}
	return ""
}

// ActorSub returns the subject of the verified caller token, if any.
func ActorSub(ctx context.Context) string {
	if jt, ok := ctx.Value(ctxTokenKey{}).(jwt.Token); ok {
		return jt.Subject()
	}
	return ""
}
