package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relay-protocol/relay/internal/auth"
	"github.com/relay-protocol/relay/internal/config"
	"github.com/relay-protocol/relay/internal/gateway/handler"
	"github.com/relay-protocol/relay/internal/gateway/service"
	"github.com/relay-protocol/relay/internal/ledger"
	"github.com/relay-protocol/relay/internal/policy"
	"github.com/relay-protocol/relay/internal/seal"
	"github.com/relay-protocol/relay/internal/tenancy"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(context.Background(), cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
	)

	// ── Core subsystems ──────────────────────────────────────────────────────
	engine, err := seal.NewEngine(cfg.PrivateKey, cfg.SealTTL)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	logger.Info("seal engine ready",
		zap.String("public_key", engine.PublicKey()),
		zap.Duration("seal_ttl", engine.TTL()),
	)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}

	evaluator := policy.NewClient(cfg.OPAURL, cfg.PolicyPath, cfg.PolicyVersion, cfg.PolicyTimeout)

	led := ledger.NewPostgresLedger(db, logger)
	tenants := tenancy.NewService(tenancy.NewPostgresStore(db), logger)
	validator := service.NewValidator(evaluator, engine, led, logger)
	gate := auth.NewGate(tokens, tenants, led, logger)

	// The validate and audit endpoints honor the AUTH_REQUIRED flag; tenant
	// registration and seal endpoints have fixed auth modes.
	optionalAuth := gate.Optional()
	if cfg.AuthRequired {
		optionalAuth = gate.Require()
	}

	tenantHandler := handler.NewTenantHandler(tenants, tokens, gate, logger)
	manifestHandler := handler.NewManifestHandler(validator, evaluator, gate, logger)
	sealHandler := handler.NewSealHandler(validator, logger)
	auditHandler := handler.NewAuditHandler(led, logger)
	healthHandler := handler.NewHealthHandler(db, evaluator, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	healthHandler.Register(router)
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/v1")
	tenantHandler.Register(v1)
	manifestHandler.Register(v1, optionalAuth)
	sealHandler.Register(v1)
	auditHandler.Register(v1, optionalAuth)

	// ── Serve ────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway listening",
			zap.String("addr", srv.Addr),
			zap.Bool("auth_required", cfg.AuthRequired),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
