// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

type ctxCredentialKey struct{}

// CredentialResolver is satisfied by *merchants.Resolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (merchants.Credential, error)
}

// WithMerchant gates data routes: the X-Merchant-Id header must resolve to an
// active credential before the handler runs.
func WithMerchant(res CredentialResolver, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := merchants.TenantFromHeader(r.Header)
			if err != nil {
				problems.Write(w, err)
				return
			}
			cred, err := res.Resolve(r.Context(), id)
			if err != nil {
				log.Infow("merchant rejected", "merchant_id", id, "code", problems.KindOf(err), "request_id", RequestIDFrom(r.Context()))
				problems.Write(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxCredentialKey{}, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFrom returns the credential attached by WithMerchant.
func CredentialFrom(ctx context.Context) (merchants.Credential, bool) {
	c, ok := ctx.Value(ctxCredentialKey{}).(merchants.Credential)
	return c, ok
}
