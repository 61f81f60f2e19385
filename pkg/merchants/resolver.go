package merchants

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"shopgate/pkg/problems"
)

// HeaderMerchantID carries the tenant identifier on every data call.
const HeaderMerchantID = "X-Merchant-Id"

// TenantFromHeader extracts the merchant id from request headers.
func TenantFromHeader(h http.Header) (string, error) {
	id := strings.TrimSpace(h.Get(HeaderMerchantID))
	if id == "" {
		return "", problems.New(problems.MissingTenant, "missing %s header", HeaderMerchantID)
	}
	return id, nil
}

// Resolver turns a merchant id into a credential that may back upstream calls.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

func (r *Resolver) Resolve(ctx context.Context, tenantID string) (Credential, error) {
	if tenantID == "" {
		return Credential{}, problems.New(problems.MissingTenant, "empty merchant id")
	}
	rec, err := r.store.GetByTenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Credential{}, problems.New(problems.UnknownTenant, "merchant %q not found", tenantID)
	}
	if err != nil {
		return Credential{}, problems.Wrap(problems.Internal, err, "load merchant")
	}
	if !rec.Authorized() {
		return Credential{}, problems.New(problems.InactiveTenant, "merchant %q has no active authorization; complete OAuth first", tenantID)
	}
	return NewCredential(rec), nil
}
