package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/config"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/gateway"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/gemini"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/health"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/ratelimit"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/tracing"
)

func main() {
	bootLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, loader, err := config.Load(config.Path(), bootLogger)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
	logger, err := newLogger(level)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	registry, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		logger.Fatal("Failed to load model registry", zap.Error(err))
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		ProjectID:        cfg.Google.ProjectID,
		Region:           cfg.Google.Region,
		CredentialsJSON:  cfg.Google.CredentialsJSON,
		APIKey:           cfg.Google.APIKey,
		PermissiveSafety: cfg.Google.PermissiveSafety,
		ProbeModel:       cfg.Google.ProbeModel,
	}, logger)
	if err != nil {
		logger.Fatal("Gemini client initialization failed", zap.Error(err))
	}
	if cfg.Google.ProbeOnStartup {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.Probe(probeCtx)
		cancel()
		if err != nil {
			logger.Fatal("Gemini client initialization failed", zap.Error(err))
		}
	}

	hm := health.NewManager(5*time.Minute, logger)
	_ = hm.RegisterChecker(health.NewGeminiChecker(client.Probe))

	limits := ratelimit.NewLimits(cfg.RateLimit.RequestsPerMinute, registry.RequestsPerMinute)
	var limiter citations.Limiter
	var closeRedis func() error
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		rdb, err := ratelimit.NewRedisClient(cfg.RateLimit.RedisURL)
		if err != nil {
			logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		closeRedis = rdb.Close
		redisLimiter := ratelimit.NewRedisLimiter(rdb, limits, logger)
		_ = hm.RegisterChecker(health.NewRedisChecker(redisLimiter))
		limiter = redisLimiter
	case config.BackendLocal:
		limiter = ratelimit.NewLocalLimiter(limits, logger)
	}
	logger.Info("Rate limiting configured",
		zap.String("backend", cfg.RateLimit.Backend),
		zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute))

	mode, err := citations.ParseMode(cfg.Citations.RewriteMode)
	if err != nil {
		logger.Fatal("Invalid rewrite mode", zap.Error(err))
	}
	rewriter := citations.NewRewriter(mode, logger)
	pipeline := citations.NewPipeline(rewriter, limiter, logger)

	handler := gateway.NewHandler(client, pipeline, registry, logger)

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, 0)
	}
	authMW := auth.NewMiddleware(cfg.Auth.APIKey, jwtManager, logger, handler.SendAuthError)
	if !authMW.Enabled() {
		logger.Warn("Gateway authentication disabled (set GATEWAY_API_KEY or JWT_SECRET)")
	}

	mux := http.NewServeMux()
	handler.Register(mux, authMW.HTTPMiddleware)
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	loader.Watch(func(next *config.Config) {
		if m, err := citations.ParseMode(next.Citations.RewriteMode); err == nil {
			rewriter.SetMode(m)
		}
		limits.SetDefault(next.RateLimit.RequestsPerMinute)
		level.SetLevel(parseLevel(next.Logging.Level))
		logger.Info("Applied configuration update",
			zap.String("rewrite_mode", next.Citations.RewriteMode),
			zap.Int("requests_per_minute", next.RateLimit.RequestsPerMinute))
	})

	hm.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Grounding gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Gateway server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Gateway shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	hm.Stop()
	if closeRedis != nil {
		_ = closeRedis()
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
	logger.Info("Gateway stopped")
}

func loadRegistry(path string) (*gemini.Registry, error) {
	if path != "" {
		return gemini.LoadRegistryFile(path)
	}
	return gemini.GetRegistry()
}

func parseLevel(s string) zapcore.Level {
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level.Level() == zapcore.DebugLevel || os.Getenv("ENVIRONMENT") == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
