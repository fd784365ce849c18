// Package main is the entry point for the Risk Service.
// Risk Service scores login attempts and transactions, maintains behavioral
// profiles and serves the threat intel and device trust surfaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/riskforge/riskforge/internal/anomaly"
	"github.com/riskforge/riskforge/internal/common/config"
	"github.com/riskforge/riskforge/internal/common/database"
	"github.com/riskforge/riskforge/internal/common/health"
	"github.com/riskforge/riskforge/internal/common/logger"
	"github.com/riskforge/riskforge/internal/common/middleware"
	"github.com/riskforge/riskforge/internal/common/resilience"
	"github.com/riskforge/riskforge/internal/common/tlsutil"
	"github.com/riskforge/riskforge/internal/common/tracing"
	"github.com/riskforge/riskforge/internal/device"
	"github.com/riskforge/riskforge/internal/geo"
	"github.com/riskforge/riskforge/internal/intel"
	"github.com/riskforge/riskforge/internal/metrics"
	"github.com/riskforge/riskforge/internal/profile"
	"github.com/riskforge/riskforge/internal/risk"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	// Initialize logger
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Risk Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	// Load configuration
	cfg, err := config.Load("risk-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg.LogSecurityWarnings(log)

	// Initialize tracing (no-op unless TRACING_ENABLED=true)
	tracingCfg := tracing.ConfigFromEnv("risk-service", cfg.Environment)
	shutdownTracing, err := tracing.Init(context.Background(), tracingCfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Initialize database connection
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis connection
	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("risk-service"))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(logger.GinMiddleware(log))
	if cfg.EnableRateLimit {
		router.Use(middleware.DistributedRateLimit(redis.Client, middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   time.Duration(cfg.RateLimitWindow) * time.Second,
		}, log))
	}
	router.Use(metrics.Middleware("risk-service"))

	// Metrics endpoint
	router.GET("/metrics", metrics.Handler())

	// Geo resolver
	resolver := geo.NewHTTPResolver(redis, geo.Config{
		ProviderURL: cfg.GeoProviderURL,
		CacheTTL:    time.Duration(cfg.GeoCacheTTLHours) * time.Hour,
		HTTPTimeout: time.Duration(cfg.GeoTimeoutMS) * time.Millisecond,
	}, log)

	// Circuit breakers tracked for readiness reporting
	breakers := resilience.NewRegistry()
	breakers.Register(resolver.Breaker())

	// Threat intel feeds
	intelService := intel.NewService(redis, intel.Config{
		Enabled:        true,
		BadIPFile:      cfg.IntelBadIPFile,
		TorExitFile:    cfg.IntelTorExitFile,
		BadASNFile:     cfg.IntelBadASNFile,
		DisposableFile: cfg.IntelDisposableFile,
		CacheTTL:       time.Duration(cfg.IntelCacheTTLSecs) * time.Second,
	}, log)

	// Stores
	profiles := profile.NewRedisStore(redis, time.Duration(cfg.ProfileTTLDays)*24*time.Hour, log)
	devices := device.NewPostgresRegistry(db, log)
	history := risk.NewPostgresHistory(db, log)
	lockout := risk.NewRedisLockout(redis, risk.LockoutConfig{
		MaxFails:     cfg.LockoutMaxFails,
		LockDuration: time.Duration(cfg.LockoutMinutes) * time.Minute,
	})

	// Risk config store seeded from static config
	riskConfig := risk.DefaultRiskConfig()
	riskConfig.StepUpThreshold = cfg.StepUpThreshold
	riskConfig.HardDenyThreshold = cfg.HardDenyThreshold
	configStore := risk.NewConfigStore(riskConfig)

	// Login scoring service
	hasher := device.NewHasher(cfg.DeviceHashSecret, cfg.DeviceHashLength)
	riskService := risk.NewService(configStore, profiles, devices, history, resolver, intelService, lockout, hasher, log)

	// Transaction scoring service
	detectorConfig := anomaly.DefaultDetectorConfig()
	detectorConfig.AEAvailable = cfg.AutoencoderEnabled
	detectorConfig.CacheSize = cfg.AnomalyModelCacheSize
	detector, err := anomaly.NewDetector(detectorConfig, log)
	if err != nil {
		log.Fatal("Failed to initialize anomaly detector", zap.Error(err))
	}
	anomalyService := anomaly.NewService(detector, anomaly.NewPostgresTxStore(db), profiles, log)

	// Register routes
	risk.NewHandlers(riskService, log).RegisterRoutes(router)
	anomaly.NewHandlers(anomalyService, log).RegisterRoutes(router)
	intel.NewHandlers(intelService, log).RegisterRoutes(router)

	// Health and readiness endpoints
	healthSvc := health.NewHealthService(log)
	healthSvc.SetVersion(Version)
	healthSvc.RegisterCheck(health.NewPostgresChecker(db))
	healthSvc.RegisterCheck(health.NewRedisChecker(redis))
	healthSvc.RegisterCheck(health.NewBreakerChecker(breakers))
	healthSvc.RegisterStandardRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", zap.Int("port", cfg.Port), zap.Bool("tls", cfg.TLS.Enabled))
		if err := tlsutil.ListenAndServe(server, cfg.TLS, log); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := shutdownTracing(ctx); err != nil {
		log.Warn("Tracing shutdown failed", zap.Error(err))
	}

	log.Info("Server exited")
}
