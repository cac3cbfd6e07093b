package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/seisei/ocr-central/config"
	"github.com/seisei/ocr-central/internal/auth"
	"github.com/seisei/ocr-central/internal/cache"
	"github.com/seisei/ocr-central/internal/gateway"
	"github.com/seisei/ocr-central/internal/ledger"
	"github.com/seisei/ocr-central/internal/ocr"
	"github.com/seisei/ocr-central/internal/telemetry"
	"github.com/seisei/ocr-central/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ocr-central", ocr.Version, cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Connect the ledger store. An unreachable store degrades the
	// service (usage endpoints answer 503, processing continues without
	// usage recording) instead of refusing to start.
	var store ledger.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("OCR_DATABASE_URL not set, usage tracking disabled")
	} else if pool := connectLedger(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		store = ledger.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("schema setup failed, starting degraded", zap.Error(err))
			store = nil
		} else {
			logger.Info("ledger store connected")
		}
	}

	// 4. Connect Redis (optional): result cache + per-tenant rate limit
	var results *cache.ResultCache
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, result cache and rate limiting disabled", zap.Error(err))
		} else {
			results = cache.New(rdb, time.Duration(cfg.CacheTTLSeconds)*time.Second, logger)
			limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMin)
			logger.Info("redis connected")
		}
	}

	if cfg.ServiceKey == "" {
		logger.Warn("OCR_SERVICE_KEY not set, endpoints accept unauthenticated requests")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, processing requests will fail with service_error")
	}

	// 5. Wire components
	gw := gateway.New(cfg.GeminiAPIKey, logger)
	tracer := otel.GetTracerProvider().Tracer("ocr-central")
	svc := ocr.NewService(gw, store, results, cfg.FreeQuotaPerMonth, cfg.PricePerImage, logger, tracer)
	handler := ocr.NewHandler(svc, store, limiter, cfg.FreeQuotaPerMonth, cfg.PricePerImage, logger)
	authMiddleware := auth.NewMiddleware(cfg.ServiceKey, logger)

	// 6. Init Chi router
	// Request IDs are minted by the auth middleware, which also echoes
	// them in X-Request-ID.
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/health", handler.HandleHealth)

	// Protected routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/ocr/process", handler.HandleProcess)
		r.Get("/usage/{tenantID}", handler.HandleUsage)
		r.Get("/usage", handler.HandleUsageList)
	})

	// 7. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("ocr-central starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func connectLedger(ctx context.Context, dsn string, logger *zap.Logger) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dsn)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		logger.Error("ledger store unavailable, starting degraded", zap.Error(err))
		if pool != nil {
			pool.Close()
		}
		return nil
	}
	return pool
}
