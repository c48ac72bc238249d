package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/config"
	"github.com/fixfirst/web/internal/handler"
	"github.com/fixfirst/web/internal/middleware"
	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/onboarding"
	"github.com/fixfirst/web/internal/ratelimit"
	"github.com/fixfirst/web/internal/session"
)

// newRouter wires the BFF. redisClient is nil when sessions are kept in memory.
func newRouter(
	cfg *config.WebConfig,
	store session.Store,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) (*gin.Engine, error) {
	secureCookie := cfg.App.Environment != "dev"
	sessionTTL := config.ParseDuration(cfg.Session.TTL, 30*time.Minute)
	upstreamTimeout := config.ParseDuration(cfg.Upstream.Timeout, 30*time.Second)

	idp := oauth.NewClient(cfg.Auth.URL, cfg.Auth.AnonKey, config.ParseDuration(cfg.Auth.Timeout, 10*time.Second))
	sessions := session.NewAccessor(store, idp, session.NewCookie(sessionTTL, secureCookie), session.AccessorConfig{
		TTL:           sessionTTL,
		RefreshMargin: config.ParseDuration(cfg.Session.RefreshMargin, session.DefaultRefreshMargin),
		Sliding:       cfg.Session.Sliding,
	}, logger)

	api := backend.NewClient(cfg.Upstream.BaseURL, upstreamTimeout)
	gate := accessgate.NewResolver(api, logger)

	authHandler := handler.NewAuthHandler(idp, sessions, oauth.NewClaimsParser(cfg.Auth.JWTSecret), handler.AuthOptions{
		SiteURL:      cfg.Auth.SiteURL,
		Provider:     cfg.Auth.Provider,
		SecureCookie: secureCookie,
	}, logger)
	pageHandler := handler.NewPageHandler(idp, sessions, gate, api, cfg.Auth.SiteURL, logger)
	gateHandler := handler.NewGateHandler(gate)
	proxyHandler, err := handler.NewProxyHandler(cfg.Upstream.BaseURL, upstreamTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy handler: %w", err)
	}

	healthHandler := handler.NewHealthHandler(redisClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewMetrics(cfg.App.Name, registry)

	router := gin.New()
	router.SetHTMLTemplate(handler.Templates())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(metrics))
	router.Use(otelgin.Middleware(cfg.App.Name))
	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.OTelTraceIDMiddleware(logger))

	// Health checks and metrics (no session).
	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/readyz", healthHandler.Readyz)
	if cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Handshake endpoints.
	auth := router.Group("/auth")
	if cfg.RateLimit.Enabled && cfg.RateLimit.Limit > 0 {
		auth.Use(middleware.RateLimitMiddleware(newLimiter(cfg.RateLimit, redisClient, logger), cfg.RateLimit.Limit, "auth"))
	}
	auth.GET("/login", authHandler.Login)
	auth.GET("/callback", authHandler.Callback)
	auth.POST("/password", authHandler.Password)
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/recover", authHandler.Recover)
	auth.POST("/reset-password", authHandler.ResetPassword)
	auth.POST("/logout", authHandler.Logout)

	// Public pages.
	optional := middleware.OptionalSession(sessions, logger)
	signedOut := middleware.RedirectSignedIn(onboarding.PostLoginPath)
	router.GET("/", optional, pageHandler.Home)
	router.GET("/login", optional, signedOut, pageHandler.Login)
	router.GET("/signup", optional, signedOut, pageHandler.Signup)
	router.GET("/forgot-password", optional, pageHandler.ForgotPassword)
	router.GET("/reset-password", optional, pageHandler.ResetPassword)

	var csrf []gin.HandlerFunc
	if cfg.CSRF.Enabled {
		csrf = append(csrf, middleware.CSRFMiddleware(cfg.CSRF.HeaderName))
	}

	// Gated page shells.
	pages := router.Group("/", middleware.SessionMiddleware(sessions, middleware.ModePage, logger))
	pages.Use(csrf...)
	pages.GET("/onboarding", pageHandler.Onboarding)
	pages.POST("/onboarding", pageHandler.SubmitOnboarding)
	pages.GET("/decision-cards", pageHandler.Cards)
	pages.POST("/decision-cards/generate", pageHandler.GenerateCards)
	pages.GET("/decision-cards/:id", pageHandler.Card)
	pages.POST("/decision-cards/:id/status", pageHandler.CardStatus)
	pages.GET("/ingestion", pageHandler.Ingestion)
	pages.POST("/ingestion", pageHandler.Upload)
	pages.GET("/insights/generate", pageHandler.Insights)
	pages.POST("/insights/generate", pageHandler.GenerateInsights)
	pages.GET("/report/weekly", pageHandler.Report)
	pages.GET("/settings", pageHandler.Settings)
	pages.POST("/settings/checkout", pageHandler.Checkout)

	router.GET("/app/gate", middleware.SessionMiddleware(sessions, middleware.ModeAPI, logger), gateHandler.Handle)

	// Backend proxy (session + CSRF required).
	proxied := router.Group("/api", middleware.SessionMiddleware(sessions, middleware.ModeAPI, logger))
	proxied.Use(csrf...)
	proxied.Any("/*path", proxyHandler.Handle)

	return router, nil
}

func newLimiter(cfg config.RateLimitConfig, redisClient redis.UniversalClient, logger *slog.Logger) ratelimit.Limiter {
	window := config.ParseDuration(cfg.Window, time.Minute)
	if redisClient == nil {
		return ratelimit.NewInMemory(window)
	}
	return ratelimit.NewRedis(redisClient, window, logger)
}
