package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"shopgate/pkg/merchants"
	"shopgate/pkg/problems"
)

var handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shopgate_oauth_handshakes_total",
	Help: "OAuth handshake steps by outcome.",
}, []string{"step", "outcome"})

// Authorization state of a merchant as reported by Status.
const (
	StateUnauthorized = "unauthorized"
	StatePending      = "pending"
	StateAuthorized   = "authorized"
	StateRevoked      = "revoked"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	ShopSuffix   string // e.g. ".myshopify.com"; empty accepts any hostname
	StateTTL     time.Duration
	VerifyHMAC   bool
	MaxSkew      time.Duration
}

// Authorization is returned by Initiate.
type Authorization struct {
	URL        string    `json:"authorization_url"`
	TenantID   string    `json:"merchant_id"`
	ShopDomain string    `json:"shop_domain"`
	State      string    `json:"state"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Confirmation is returned by a successful callback. It never carries the token.
type Confirmation struct {
	TenantID     string    `json:"merchant_id"`
	ShopDomain   string    `json:"shop_domain"`
	Scopes       []string  `json:"scopes"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

type Status struct {
	Authorized bool     `json:"authorized"`
	ShopDomain string   `json:"shop_domain,omitempty"`
	Scopes     []string `json:"scopes"`
	State      string   `json:"state"`
}

// Engine runs the per-merchant authorization code flow.
type Engine struct {
	cfg     Config
	store   merchants.Store
	states  StateStore
	log     *zap.SugaredLogger
	client  *http.Client
	shopURL func(shop string) string
	now     func() time.Time
}

type Option func(*Engine)

// WithHTTPClient sets the client used for the code exchange.
func WithHTTPClient(c *http.Client) Option { return func(e *Engine) { e.client = c } }

// WithShopURL overrides how a shop domain becomes a base URL
// (default "https://" + shop).
func WithShopURL(f func(shop string) string) Option { return func(e *Engine) { e.shopURL = f } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(cfg Config, store merchants.Store, states StateStore, log *zap.SugaredLogger, opts ...Option) *Engine {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		states:  states,
		log:     log,
		client:  &http.Client{Timeout: 15 * time.Second},
		shopURL: func(shop string) string { return "https://" + shop },
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) oauthConfig(shop string) *oauth2.Config {
	base := strings.TrimRight(e.shopURL(shop), "/")
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		RedirectURL:  e.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Initiate starts a handshake for tenantID against shopDomain. Earlier
// unconsumed handshakes of the same tenant stay valid until they expire.
func (e *Engine) Initiate(ctx context.Context, tenantID, shopDomain string) (Authorization, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Authorization{}, problems.New(problems.MissingTenant, "merchant_id is required")
	}
	shop := SanitizeShopDomain(shopDomain)
	if !ValidShopDomain(shop, e.cfg.ShopSuffix) {
		return Authorization{}, problems.New(problems.InvalidRequest, "invalid shop domain %q", shopDomain)
	}
	state, err := newStateToken()
	if err != nil {
		return Authorization{}, problems.Wrap(problems.Internal, err, "generate state")
	}
	h := Handshake{State: state, TenantID: tenantID, ShopDomain: shop, ExpiresAt: e.now().Add(e.cfg.StateTTL).UTC()}
	if err := e.states.Save(ctx, h); err != nil {
		handshakes.WithLabelValues("initiate", "error").Inc()
		return Authorization{}, problems.Wrap(problems.Internal, err, "save state")
	}
	// The platform expects a comma separated scope list, oauth2.Config joins with spaces.
	authURL := e.oauthConfig(shop).AuthCodeURL(state, oauth2.SetAuthURLParam("scope", strings.Join(e.cfg.Scopes, ",")))
	handshakes.WithLabelValues("initiate", "ok").Inc()
	e.log.Infow("oauth initiated", "merchant_id", tenantID, "shop", shop, "expires_at", h.ExpiresAt)
	return Authorization{URL: authURL, TenantID: tenantID, ShopDomain: shop, State: state, ExpiresAt: h.ExpiresAt}, nil
}

// VerifySignature checks the platform's HMAC over the raw callback
// parameters. It is a no-op when verification is disabled.
func (e *Engine) VerifySignature(params url.Values) error {
	if !e.cfg.VerifyHMAC {
		return nil
	}
	if err := VerifyCallback(params, e.cfg.ClientSecret, e.now(), e.cfg.MaxSkew); err != nil {
		handshakes.WithLabelValues("callback", "bad_signature").Inc()
		return problems.Wrap(problems.InvalidState, err, "callback verification failed")
	}
	return nil
}

// HandleCallback consumes the handshake named by state, exchanges code for an
// access token and stores the grant for the tenant recorded at initiation.
// The state is spent even when a later step fails.
func (e *Engine) HandleCallback(ctx context.Context, state, code, shopDomain string) (Confirmation, error) {
	if state == "" {
		return Confirmation{}, problems.New(problems.InvalidState, "missing state")
	}
	if code == "" {
		return Confirmation{}, problems.New(problems.InvalidRequest, "missing code")
	}
	shop := SanitizeShopDomain(shopDomain)

	h, err := e.states.Take(ctx, state)
	if errors.Is(err, ErrStateNotFound) {
		handshakes.WithLabelValues("callback", "invalid_state").Inc()
		return Confirmation{}, problems.New(problems.InvalidState, "unknown, expired or already used state")
	}
	if err != nil {
		return Confirmation{}, problems.Wrap(problems.Internal, err, "load state")
	}
	if h.ShopDomain != shop {
		handshakes.WithLabelValues("callback", "shop_mismatch").Inc()
		e.log.Warnw("oauth shop mismatch", "merchant_id", h.TenantID, "expected", h.ShopDomain, "got", shop)
		return Confirmation{}, problems.New(problems.InvalidState, "shop does not match the initiated handshake")
	}

	tok, err := e.oauthConfig(h.ShopDomain).Exchange(context.WithValue(ctx, oauth2.HTTPClient, e.client), code)
	if err != nil {
		handshakes.WithLabelValues("callback", "exchange_failed").Inc()
		e.log.Warnw("oauth exchange failed", "merchant_id", h.TenantID, "shop", h.ShopDomain, "err", exchangeDetail(err))
		return Confirmation{}, problems.Wrap(problems.TokenExchangeFailed, err, "code exchange rejected")
	}
	scopes := parseScopes(tok.Extra("scope"))

	rec, err := e.store.Upsert(ctx, merchants.Record{
		TenantID:    h.TenantID,
		ShopDomain:  h.ShopDomain,
		AccessToken: tok.AccessToken,
		Scopes:      scopes,
		Active:      true,
	})
	if err != nil {
		handshakes.WithLabelValues("callback", "persist_failed").Inc()
		e.log.Errorw("oauth persist failed after exchange", "merchant_id", h.TenantID, "shop", h.ShopDomain, "err", err)
		if errors.Is(err, merchants.ErrShopDomainTaken) {
			return Confirmation{}, problems.Wrap(problems.InvalidRequest, err, "shop is linked to another merchant")
		}
		return Confirmation{}, problems.Wrap(problems.Internal, err, "grant obtained but not stored; initiate again")
	}
	handshakes.WithLabelValues("callback", "ok").Inc()
	e.log.Infow("oauth authorized", "merchant_id", rec.TenantID, "shop", rec.ShopDomain, "scopes", rec.Scopes)
	return Confirmation{TenantID: rec.TenantID, ShopDomain: rec.ShopDomain, Scopes: rec.Scopes, AuthorizedAt: rec.UpdatedAt}, nil
}

// Status is read-only and never exposes the token.
func (e *Engine) Status(ctx context.Context, tenantID string) (Status, error) {
	if tenantID == "" {
		return Status{}, problems.New(problems.MissingTenant, "merchant_id is required")
	}
	st := Status{Scopes: []string{}, State: StateUnauthorized}
	rec, err := e.store.GetByTenant(ctx, tenantID)
	switch {
	case errors.Is(err, merchants.ErrNotFound):
	case err != nil:
		return Status{}, problems.Wrap(problems.Internal, err, "load merchant")
	default:
		st.ShopDomain = rec.ShopDomain
		if rec.Scopes != nil {
			st.Scopes = rec.Scopes
		}
		if rec.Authorized() {
			st.Authorized = true
			st.State = StateAuthorized
			return st, nil
		}
		if rec.AccessToken != "" {
			st.State = StateRevoked
		}
	}
	pending, err := e.states.Pending(ctx, tenantID)
	if err != nil {
		return Status{}, problems.Wrap(problems.Internal, err, "load pending handshakes")
	}
	if pending {
		st.State = StatePending
	}
	return st, nil
}

// Deactivate revokes the stored grant of tenantID.
func (e *Engine) Deactivate(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return problems.New(problems.MissingTenant, "merchant_id is required")
	}
	err := e.store.Deactivate(ctx, tenantID)
	if errors.Is(err, merchants.ErrNotFound) {
		return problems.New(problems.UnknownTenant, "merchant %q not found", tenantID)
	}
	if err != nil {
		return problems.Wrap(problems.Internal, err, "deactivate merchant")
	}
	e.log.Infow("oauth deactivated", "merchant_id", tenantID)
	return nil
}

func parseScopes(v any) []string {
	s, _ := v.(string)
	out := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if out == nil {
		return []string{}
	}
	return out
}

func exchangeDetail(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Sprintf("status=%d code=%s", re.Response.StatusCode, re.ErrorCode)
	}
	return err.Error()
}
