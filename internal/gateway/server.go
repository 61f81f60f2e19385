// internal/gateway/server.go
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shopgate/internal/oauth"
	"shopgate/internal/upstream"
	"shopgate/pkg/config"
	"shopgate/pkg/merchants"
	"shopgate/pkg/middleware"
	"shopgate/pkg/openapi"
)

const (
	serviceName = "shopgate"
	apiVersion  = "1.0.0"
)

// Server binds the OAuth engine and the upstream client to HTTP routes.
type Server struct {
	cfg      config.Config
	engine   *oauth.Engine
	client   *upstream.Client
	resolver *merchants.Resolver
	usage    merchants.UsageRecorder // nil when the store keeps no audit
	api      *openapi.Registry
	log      *zap.SugaredLogger
}

func New(cfg config.Config, engine *oauth.Engine, client *upstream.Client, store merchants.Store, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		client:   client,
		resolver: merchants.NewResolver(store),
		api:      openapi.NewRegistry(),
		log:      log,
	}
	if u, ok := store.(merchants.UsageRecorder); ok {
		s.usage = u
	}
	describe(s.api)
	return s
}

// Router returns the full HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(s.log))
	r.Use(middleware.Metrics(s.log))
	r.Use(middleware.CORS(s.cfg.CORSOrigins))
	r.Use(middleware.Tracing(serviceName, s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/openapi.json", s.api.ServeHandler(serviceName, apiVersion))

	r.Route("/api", func(api chi.Router) {
		// The platform redirects the merchant's browser here; it carries no
		// caller token, only the signed query.
		api.Get("/oauth/callback", s.handleCallback)

		api.Group(func(pr chi.Router) {
			pr.Use(middleware.CallerAuth(s.cfg, s.log))
			pr.Post("/oauth/initiate", s.handleInitiate)
			pr.Post("/oauth/complete", s.handleComplete)
			pr.Get("/oauth/status", s.handleStatus)
			pr.Delete("/oauth/authorization", s.handleDeactivate)

			pr.Group(func(dr chi.Router) {
				dr.Use(middleware.WithMerchant(s.resolver, s.log))
				dr.Get("/products", s.data("products.list", s.listProducts))
				dr.Get("/products/count", s.handleCountProducts)
				dr.Get("/products/{id}", s.data("products.get", s.getProduct))
				dr.Get("/orders", s.data("orders.list", s.listOrders))
				dr.Get("/customers", s.data("customers.list", s.listCustomers))
				dr.Get("/shop", s.data("shop.get", s.getShop))
				dr.Post("/proxy", s.data("passthrough", s.passthrough))
			})
		})
	})
	return r
}
