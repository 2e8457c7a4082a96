package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nlcore/zib-fhir/internal/config"
	"github.com/nlcore/zib-fhir/internal/domain"
	"github.com/nlcore/zib-fhir/internal/platform/auth"
	"github.com/nlcore/zib-fhir/internal/platform/db"
	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/middleware"
	"github.com/nlcore/zib-fhir/internal/platform/openapi"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
	"github.com/nlcore/zib-fhir/internal/platform/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newIdentityProvider builds the credential chain: local JWT, session cache
// and Gateway. It returns nil when neither a Gateway nor a JWT secret is
// configured, which only Validate allows in development.
func newIdentityProvider(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) (auth.IdentityProvider, func(), error) {
	if !cfg.GatewayEnabled() {
		return nil, func() {}, nil
	}

	var cache auth.SessionCache
	cleanup := func() {}
	if cfg.RedisURL != "" {
		rc, err := auth.NewRedisCache(cfg.RedisURL, cfg.SessionCacheTTL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("session cache: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, sessions are verified on every request")
		}
		cancel()
		cache = rc
		cleanup = func() { rc.Close() }
	}

	var gateway auth.IdentityProvider
	if cfg.GatewayURL != "" {
		gateway = auth.NewGatewayClient(cfg.GatewayURL, cfg.GatewayTimeout, metrics)
	}

	jwt := auth.NewJWTVerifier(cfg.GatewayJWTSecret, cfg.GatewayJWTIssuer)
	return auth.NewAuthenticator(jwt, cache, gateway, metrics), cleanup, nil
}

// newServer wires the HTTP surface. pool backs the resource store, the user
// mapping lookup and the health check.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, reg *prometheus.Registry) (*echo.Echo, func(), error) {
	registry, err := domain.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("resource registry: %w", err)
	}

	metrics := telemetry.NewMetrics(reg)
	if pool != nil {
		metrics.RegisterPool(pool)
	}

	identity, cleanup, err := newIdentityProvider(cfg, logger, metrics)
	if err != nil {
		return nil, nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = fhir.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "If-Match", "Prefer", auth.HeaderAPIKey, auth.HeaderTenantID, middleware.RequestIDHeader},
		ExposeHeaders:    []string{"ETag", "Location", "Last-Modified", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	capBuilder := fhir.NewCapabilityBuilder(fhir.CapabilityConfig{
		ServerVersion: version,
		BaseURL:       cfg.BaseURL,
	})
	registry.RegisterCapabilities(capBuilder)
	capHandler := fhir.NewCapabilityHandler(capBuilder)

	// Unauthenticated endpoints
	e.GET("/metadata", capHandler.GetMetadata)
	e.GET("/api/fhir/:version/metadata", capHandler.GetMetadata, fhir.RequireR4())
	openapi.NewGenerator(capBuilder, version, cfg.BaseURL).RegisterRoutes(e.Group("/api"))
	e.GET("/health", db.HealthHandler(pool, db.NewMigrator(pool)))
	e.GET("/metrics", metrics.Handler())

	authMW := auth.NewMiddleware(auth.Config{
		Identity: identity,
		Mappings: db.NewTenantStore(pool),
		DevMode:  cfg.IsDev(),
		Logger:   logger,
	})
	svc := resource.NewService(resource.NewPGStore(), db.NewRunner(pool))
	h := resource.NewHandler(registry, svc, cfg.BaseURL, metrics)

	g := e.Group("/api/fhir/:version",
		fhir.RequireR4(),
		authMW.Authenticate,
		middleware.Audit(logger),
		h.ResolveType,
		authMW.Authorize,
	)
	h.RegisterRoutes(g)

	logger.Info().
		Int("resource_types", capBuilder.ResourceCount()).
		Bool("gateway", identity != nil).
		Msg("routes registered")
	return e, cleanup, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, cleanup, err := newServer(cfg, logger, pool, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer cleanup()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
