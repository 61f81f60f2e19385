package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shopgate/internal/upstream"
	"shopgate/pkg/merchants"
	"shopgate/pkg/middleware"
	"shopgate/pkg/problems"
)

// envelope wraps every successful data response.
type envelope struct {
	MerchantID string             `json:"merchant_id"`
	ShopDomain string             `json:"shop_domain"`
	Data       json.RawMessage    `json:"data"`
	Page       *upstream.PageInfo `json:"page,omitempty"`
	Summary    map[string]any     `json:"summary,omitempty"`
}

type dataFunc func(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error)

// data adapts an upstream operation to a handler behind WithMerchant.
func (s *Server) data(op string, fn dataFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, ok := middleware.CredentialFrom(r.Context())
		if !ok {
			problems.Write(w, problems.New(problems.Internal, "merchant gate not installed"))
			return
		}
		start := time.Now()
		resp, err := fn(r.Context(), cred, r)
		s.recordUsage(r, cred, op, statusOf(err), start)
		if err != nil {
			problems.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{
			MerchantID: cred.TenantID,
			ShopDomain: cred.ShopDomain,
			Data:       resp.Body,
			Page:       resp.Page,
			Summary:    resp.Summary,
		})
	}
}

func (s *Server) recordUsage(r *http.Request, cred merchants.Credential, op string, status int, start time.Time) {
	if s.usage == nil {
		return
	}
	ev := merchants.UsageEvent{
		TenantID:   cred.TenantID,
		Operation:  op,
		Method:     r.Method,
		Path:       r.URL.Path,
		RequestID:  middleware.RequestIDFrom(r.Context()),
		StatusCode: status,
		StartedAt:  start.UTC(),
		Duration:   time.Since(start),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := s.usage.RecordUsage(ctx, ev); err != nil {
		s.log.Warnw("usage record failed", "merchant_id", cred.TenantID, "op", op, "err", err)
	}
}

func (s *Server) listProducts(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error) {
	return s.client.ListProducts(ctx, cred, r.URL.Query())
}

func (s *Server) getProduct(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error) {
	return s.client.GetProduct(ctx, cred, chi.URLParam(r, "id"), r.URL.Query())
}

func (s *Server) listOrders(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error) {
	return s.client.ListOrders(ctx, cred, r.URL.Query())
}

func (s *Server) listCustomers(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error) {
	return s.client.ListCustomers(ctx, cred, r.URL.Query())
}

func (s *Server) getShop(ctx context.Context, cred merchants.Credential, _ *http.Request) (*upstream.Response, error) {
	return s.client.GetShop(ctx, cred)
}

type proxyRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
	Body   json.RawMessage   `json:"body"`
}

func (s *Server) passthrough(ctx context.Context, cred merchants.Credential, r *http.Request) (*upstream.Response, error) {
	var in proxyRequest
	if err := decode(r, &in); err != nil {
		return nil, err
	}
	q := r.URL.Query()
	for k, v := range in.Query {
		q.Set(k, v)
	}
	return s.client.Passthrough(ctx, cred, in.Method, in.Path, q, in.Body)
}

func (s *Server) handleCountProducts(w http.ResponseWriter, r *http.Request) {
	cred, ok := middleware.CredentialFrom(r.Context())
	if !ok {
		problems.Write(w, problems.New(problems.Internal, "merchant gate not installed"))
		return
	}
	start := time.Now()
	n, err := s.client.CountProducts(r.Context(), cred, r.URL.Query())
	s.recordUsage(r, cred, "products.count", statusOf(err), start)
	if err != nil {
		problems.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": cred.TenantID,
		"shop_domain": cred.ShopDomain,
		"count":       n,
	})
}
