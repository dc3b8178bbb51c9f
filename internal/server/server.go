package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/circuitbreaker"
	"github.com/aman-churiwal/tenant-admission/internal/config"
	"github.com/aman-churiwal/tenant-admission/internal/handler"
	"github.com/aman-churiwal/tenant-admission/internal/healthcheck"
	"github.com/aman-churiwal/tenant-admission/internal/metrics"
	"github.com/aman-churiwal/tenant-admission/internal/middleware"
	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/aman-churiwal/tenant-admission/internal/quota"
	"github.com/aman-churiwal/tenant-admission/internal/ratelimit"
	"github.com/aman-churiwal/tenant-admission/internal/repository"
	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	store      storage.CounterStore
	database   *storage.Database
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	breaker    *circuitbreaker.CircuitBreaker
	checker    *healthcheck.Checker
	limiter    *ratelimit.Service
	paths      *ratelimit.PathTable
	resolver   *plans.Resolver
	tracker    *quota.Tracker
	gate       *quota.Gate
	apiKeys    *service.APIKeyService
	tokens     *service.TokenVerifier
	usage      *service.UsageService
	httpServer *http.Server
}

func New(cfg *config.Config, store storage.CounterStore, database *storage.Database) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		store:    store,
		database: database,
		registry: registry,
		metrics:  m,
	}

	// The unauthenticated rate limit keys on the client IP, so forwarded
	// headers are honored only from configured proxies.
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s.breaker = circuitbreaker.New(circuitbreaker.Config{
		MaxFailures:   cfg.RateLimit.Breaker.MaxFailures,
		Timeout:       cfg.RateLimit.Breaker.Timeout(),
		OnStateChange: s.onBreakerStateChange,
	})

	limiter := ratelimit.NewLimiter(store, cfg.RateLimit.Algorithm, ratelimit.DefaultWindow, nil)
	s.limiter = ratelimit.NewService(limiter, s.breaker, m)
	s.paths = ratelimit.NewPathTable(cfg.RateLimit.Paths)

	table := plans.NewTable(cfg.Plans)
	s.resolver = plans.NewResolver(table, repository.NewOverrideRepository(database), store)

	events := repository.NewEventRepository(database)
	s.tracker = quota.NewTracker(repository.NewUsageRepository(database), events, m, quota.Config{
		MaxAttempts:  cfg.Quota.MaxAttempts,
		StoreTimeout: cfg.Quota.StoreTimeout(),
	})
	s.gate = quota.NewGate(s.resolver, s.tracker)

	s.apiKeys = service.NewAPIKeyService(repository.NewAPIKeyRepository(database), store, table)
	s.tokens = service.NewTokenVerifier(cfg.Auth.JWTSecret)
	s.usage = service.NewUsageService(s.tracker, s.resolver, s.limiter, events)

	s.checker = healthcheck.NewChecker(&healthcheck.Config{
		Dependencies: []healthcheck.Dependency{
			{Name: "database", Ping: database.Ping, Required: true},
			{Name: "counter_store", Ping: store.Ping},
		},
	})

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Called with the breaker's lock held.
func (s *Server) onBreakerStateChange(from, to circuitbreaker.State) {
	entry := log.WithFields(log.Fields{
		"from": from.String(),
		"to":   to.String(),
	})
	switch to {
	case circuitbreaker.StateOpen:
		s.metrics.BreakerOpen.Set(1)
		entry.Warn("counter store circuit breaker opened, rate limiting fails open")
	case circuitbreaker.StateClosed:
		s.metrics.BreakerOpen.Set(0)
		entry.Info("counter store circuit breaker closed")
	default:
		entry.Info("counter store circuit breaker probing")
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.Authenticate(s.apiKeys, s.tokens, s.config.Auth.APIKeyHeader))
	s.router.Use(middleware.Admission(s.limiter, s.paths, s.resolver, s.tracker, middleware.AdmissionConfig{
		ExemptPaths:          s.config.RateLimit.ExemptPaths,
		ExemptPrefixes:       s.config.RateLimit.ExemptPrefixes,
		UnauthenticatedLimit: s.config.RateLimit.UnauthenticatedPerMinute,
	}))
}

func (s *Server) setupRoutes() {
	systemHandler := handler.NewSystemHandler(s.checker, s.breaker)
	usageHandler := handler.NewUsageHandler(s.usage)
	adminHandler := handler.NewAdminHandler(s.usage, s.apiKeys)
	apiKeyHandler := handler.NewAPIKeyHandler(s.apiKeys)

	s.router.GET("/health", systemHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	usage := s.router.Group("/usage", middleware.RequireTenant())
	{
		usage.GET("", usageHandler.Summary)
		usage.GET("/history", usageHandler.History)
		usage.GET("/quotas", usageHandler.Quotas)
		usage.GET("/rate-limit", usageHandler.RateLimit)
	}

	tenants := s.router.Group("/usage/tenants", middleware.RequireAdmin())
	{
		tenants.GET("/:id", adminHandler.GetTenant)
		tenants.PATCH("/:id/quotas", adminHandler.UpdateQuotas)
		tenants.DELETE("/:id/quotas", adminHandler.ResetQuotas)
		tenants.GET("/:id/events", adminHandler.ListEvents)
	}

	admin := s.router.Group("/usage/admin", middleware.RequireAdmin())
	{
		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)
		admin.GET("/breaker", systemHandler.CircuitBreakerStatus)
		admin.POST("/breaker/reset", systemHandler.ResetCircuitBreaker)
	}
}

// Metered guards a feature route that consumes amount units of usageType.
// Mount it before the handler that does the expensive work.
func (s *Server) Metered(usageType models.UsageType, amount int) gin.HandlerFunc {
	return middleware.RequireQuota(s.gate, usageType, amount)
}

func (s *Server) Run(addr string) error {
	s.checker.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(log.Fields{
		"addr":        addr,
		"environment": s.config.Server.Environment,
		"algorithm":   s.config.RateLimit.Algorithm,
	}).Info("starting tenant admission service")

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then drains pending usage increments.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")

	s.checker.Stop()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	return s.tracker.Flush(ctx)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
