// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopgate/internal/gateway"
	"shopgate/internal/oauth"
	"shopgate/internal/upstream"
	"shopgate/pkg/config"
	"shopgate/pkg/db"
	"shopgate/pkg/logger"
	"shopgate/pkg/merchants"
	"shopgate/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}
	ctx := context.Background()

	var store merchants.Store
	if pool := db.MustConnect(cfg, log); pool != nil {
		defer pool.Close()
		if err := merchants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		sealer, err := merchants.NewSealer(cfg.EncryptionKey)
		if err != nil {
			log.Fatalw("token sealer", "err", err)
		}
		store = merchants.NewPostgresStore(pool, sealer, log)
	} else {
		store = merchants.NewMemoryStore(log)
		n, err := merchants.SeedFromFile(ctx, store, cfg.MerchantSeedFile)
		if err != nil {
			log.Warnw("seed", "file", cfg.MerchantSeedFile, "err", err)
		} else if n > 0 {
			log.Infow("seeded merchants", "count", n)
		}
	}

	var states oauth.StateStore
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		states = oauth.NewRedisStateStore(rdb, "", log)
	} else {
		states = oauth.NewMemoryStateStore()
	}

	policy, err := upstream.NewRegoPolicy(ctx, cfg.UpstreamPolicyFile)
	if err != nil {
		log.Fatalw("upstream policy", "file", cfg.UpstreamPolicyFile, "err", err)
	}

	engine := oauth.NewEngine(oauth.Config{
		ClientID:     cfg.ShopifyAPIKey,
		ClientSecret: cfg.ShopifyAPISecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       cfg.ShopifyScopes,
		ShopSuffix:   cfg.ShopDomainSuffix,
		StateTTL:     cfg.HandshakeTTL,
		VerifyHMAC:   cfg.VerifyCallbackHMAC,
		MaxSkew:      cfg.CallbackMaxSkew,
	}, store, states, log)
	client := upstream.NewClient(upstream.Config{
		APIVersion: cfg.ShopifyAPIVersion,
		Timeout:    cfg.UpstreamTimeout,
	}, store, log, upstream.WithPolicy(policy))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gateway.New(cfg, engine, client, store, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr, "api_version", cfg.ShopifyAPIVersion)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = middleware.ShutdownTracing(shutdownCtx)
	_ = log.Sync()
	fmt.Println("gateway-service stopped")
}
