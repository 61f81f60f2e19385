package merchants

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Record is the durable OAuth grant of one merchant.
type Record struct {
	TenantID    string    `json:"merchant_id"` // externally supplied, immutable
	ShopDomain  string    `json:"shop_domain"` // upstream account, unique across merchants
	AccessToken string    `json:"-"`
	Scopes      []string  `json:"scopes"`
	Active      bool      `json:"is_active"` // false = revoked, row kept for audit
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Authorized reports whether the record may back data calls.
func (r Record) Authorized() bool { return r.Active && r.AccessToken != "" }

// Credential is what the resolver hands to the upstream client. The token is
// unexported and only leaves the process through Apply.
type Credential struct {
	TenantID   string
	ShopDomain string
	Scopes     []string
	token      string
	version    time.Time // UpdatedAt of the record the credential was read from
}

// AccessTokenHeader is the header the upstream platform reads the token from.
const AccessTokenHeader = "X-Shopify-Access-Token"

func NewCredential(rec Record) Credential {
	return Credential{
		TenantID:   rec.TenantID,
		ShopDomain: rec.ShopDomain,
		Scopes:     append([]string(nil), rec.Scopes...),
		token:      rec.AccessToken,
		version:    rec.UpdatedAt,
	}
}

// Apply sets the access token on an outbound request's headers.
func (c Credential) Apply(h http.Header) { h.Set(AccessTokenHeader, c.token) }

func (c Credential) Valid() bool { return c.token != "" && c.ShopDomain != "" }

func (c Credential) String() string {
	return fmt.Sprintf("Credential{merchant=%s shop=%s token=REDACTED}", c.TenantID, c.ShopDomain)
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"merchant_id": c.TenantID,
		"shop_domain": c.ShopDomain,
		"scopes":      c.Scopes,
	})
}

// UsageEvent is one proxied data call, recorded after the response is written.
type UsageEvent struct {
	TenantID   string
	Operation  string
	Method     string
	Path       string
	RequestID  string
	StatusCode int
	StartedAt  time.Time
	Duration   time.Duration
}
