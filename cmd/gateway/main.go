package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/modelgate/config"
	"github.com/vnmchuo/modelgate/internal/artifact"
	"github.com/vnmchuo/modelgate/internal/auth"
	"github.com/vnmchuo/modelgate/internal/billing"
	"github.com/vnmchuo/modelgate/internal/cache"
	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider/factory"
	"github.com/vnmchuo/modelgate/internal/proxy"
	"github.com/vnmchuo/modelgate/internal/seeder"
	"github.com/vnmchuo/modelgate/internal/telemetry"
	"github.com/vnmchuo/modelgate/pkg/logger"
	"github.com/vnmchuo/modelgate/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Default.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetDefault(logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr))
	log := logger.NewComponentLogger("gateway")

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("modelgate", telemetry.TracerOptions{
		Exporter:    cfg.OTELExporterType,
		Endpoint:    cfg.OTELExporterEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()
	tracer := otel.GetTracerProvider().Tracer("modelgate")
	metrics := telemetry.NewMetrics(nil)

	ctx := context.Background()

	// 3. Load the model registry
	registry := llmconfig.NewRegistry(llmconfig.OSEnv{})
	if err := llmconfig.LoadFile(registry, cfg.LLMRegistryFile); err != nil {
		// valid entries are registered even when others fail
		log.Warn("llm registry loaded with errors", "file", cfg.LLMRegistryFile, "error", err)
	}
	log.Info("llm registry loaded", "keys", len(registry.Keys()))

	providers := factory.New(factory.Vertex{
		Project:     cfg.VertexProject,
		Location:    cfg.VertexLocation,
		Credentials: []byte(cfg.VertexCredentials),
	}, factory.WithTimeout(cfg.LLMTimeout))

	opts := []proxy.Option{
		proxy.WithTracer(tracer),
		proxy.WithMetrics(metrics),
		proxy.WithTimeout(cfg.LLMTimeout),
		proxy.WithViewport(message.Resolution{Width: cfg.BrowserWidth, Height: cfg.BrowserHeight}),
		proxy.WithScaling(cfg.ScreenshotScaling),
	}

	// 4. Connect PostgreSQL
	var authStore auth.Store
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to connect postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		log.Info("PostgreSQL connected")

		authStore = auth.NewPostgresStore(pool)
		opts = append(opts, proxy.WithStatsStore(billing.NewPostgresStore(pool)))
	} else {
		log.Warn("POSTGRES_DSN not set, step and thought stats are not persisted")
	}

	// 5. Connect Redis
	var authCache auth.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		log.Info("Redis connected")

		authCache = rdb
		opts = append(opts,
			proxy.WithArtifactSink(artifact.NewRedisSink(rdb, cfg.ArtifactTTL)),
			proxy.WithLimiter(ratelimit.NewLimiter(rdb)),
		)
	}

	// 6. Vertex context caches
	if cfg.VertexProject != "" {
		client, err := providers.VertexClient(ctx)
		if err != nil {
			log.Warn("vertex context caching disabled", "error", err)
		} else {
			manager := cache.NewManager(cache.NewVertexBackend(client))
			opts = append(opts, proxy.WithCacheManager(manager, cfg.VertexCacheTTL))
		}
	}

	// 7. Init dispatcher and caller registry
	dispatcher := proxy.NewDispatcher(registry, providers, opts...)
	callers := proxy.NewCallerRegistry(cfg.CallerTTL)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go callers.Run(sweepCtx, time.Minute)

	handler := proxy.NewHandler(dispatcher, callers, tracer)

	// 8. Seed a development API key if RUN_SEED=true
	if cfg.RunSeed && authStore != nil {
		seeder.SeedDevAPIKey(ctx, authStore)
	}

	// 9. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"modelgate"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		if authStore != nil {
			r.Use(auth.NewMiddleware(authStore, authCache))
		} else {
			log.Warn("no API key store, every request is attributed to the dev organization")
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					next.ServeHTTP(w, r.WithContext(auth.WithOrganizationID(r.Context(), seeder.DevOrganizationID)))
				})
			})
		}
		r.Get("/v1/models", handler.HandleListModels)
		r.Post("/v1/invoke/{llmKey}", handler.HandleInvoke)
		r.Delete("/v1/runs/{runID}", handler.HandleClearRun)
	})

	// 10. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("modelgate starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}
