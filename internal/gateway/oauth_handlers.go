package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shopgate/internal/oauth"
	"shopgate/internal/upstream"
	"shopgate/pkg/merchants"
	"shopgate/pkg/middleware"
	"shopgate/pkg/problems"
)

type initiateRequest struct {
	MerchantID string `json:"merchant_id"`
	ShopDomain string `json:"shop_domain"`
}

// callbackResponse is served after a successful code exchange.
type callbackResponse struct {
	Authorized   bool      `json:"authorized"`
	MerchantID   string    `json:"merchant_id"`
	ShopDomain   string    `json:"shop_domain"`
	ShopName     string    `json:"shop_name,omitempty"`
	Scopes       []string  `json:"scopes"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var in initiateRequest
	if err := decode(r, &in); err != nil {
		problems.Write(w, err)
		return
	}
	in.MerchantID = strings.TrimSpace(in.MerchantID)
	if in.MerchantID == "" {
		in.MerchantID = strings.TrimSpace(r.Header.Get(merchants.HeaderMerchantID))
	}
	if bound := middleware.BoundMerchant(r.Context()); bound != "" {
		if in.MerchantID == "" {
			in.MerchantID = bound
		} else if in.MerchantID != bound {
			s.log.Warnw("initiate for a foreign merchant", "sub", middleware.ActorSub(r.Context()), "token_merchant", bound, "merchant_id", in.MerchantID)
			problems.Write(w, problems.New(problems.Forbidden, "token is not valid for merchant %q", in.MerchantID))
			return
		}
	}
	auth, err := s.engine.Initiate(r.Context(), in.MerchantID, in.ShopDomain)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	s.completeHandshake(w, r, r.URL.Query())
}

// handleComplete accepts the callback parameters relayed by a frontend that
// received the platform redirect itself.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if err := decode(r, &in); err != nil {
		problems.Write(w, err)
		return
	}
	params := url.Values{}
	for k, v := range in {
		switch t := v.(type) {
		case string:
			params.Set(k, t)
		case float64:
			params.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
		case bool:
			params.Set(k, strconv.FormatBool(t))
		}
	}
	s.completeHandshake(w, r, params)
}

func (s *Server) completeHandshake(w http.ResponseWriter, r *http.Request, params url.Values) {
	// Signature first, so a forged callback cannot spend a genuine state.
	if err := s.engine.VerifySignature(params); err != nil {
		s.log.Warnw("callback rejected", "shop", params.Get("shop"), "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		problems.Write(w, err)
		return
	}
	conf, err := s.engine.HandleCallback(r.Context(), params.Get("state"), params.Get("code"), params.Get("shop"))
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Authorized:   true,
		MerchantID:   conf.TenantID,
		ShopDomain:   conf.ShopDomain,
		ShopName:     s.shopName(r.Context(), conf.TenantID),
		Scopes:       conf.Scopes,
		AuthorizedAt: conf.AuthorizedAt,
	})
}

// shopName is a best-effort lookup; the grant is already stored, so any
// failure here only leaves the name out.
func (s *Server) shopName(ctx context.Context, tenantID string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cred, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return ""
	}
	resp, err := s.client.GetShop(ctx, cred)
	if err != nil {
		s.log.Infow("shop lookup after authorization failed", "merchant_id", tenantID, "code", problems.KindOf(err))
		return ""
	}
	return upstream.ShopName(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := merchants.TenantFromHeader(r.Header)
	if err != nil {
		problems.Write(w, err)
		return
	}
	st, err := s.engine.Status(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MerchantID string `json:"merchant_id"`
		oauth.Status
	}{id, st})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := merchants.TenantFromHeader(r.Header)
	if err != nil {
		problems.Write(w, err)
		return
	}
	if err := s.engine.Deactivate(r.Context(), id); err != nil {
		problems.Write(w, err)
		return
	}
	s.log.Infow("authorization revoked by caller", "merchant_id", id, "actor", middleware.ActorSub(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
