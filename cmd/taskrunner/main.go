package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/taskrunner/internal/adapter/docker"
	trhttp "github.com/Strob0t/taskrunner/internal/adapter/http"
	"github.com/Strob0t/taskrunner/internal/adapter/llmapi"
	trmcp "github.com/Strob0t/taskrunner/internal/adapter/mcp"
	trnats "github.com/Strob0t/taskrunner/internal/adapter/nats"
	"github.com/Strob0t/taskrunner/internal/adapter/natskv"
	tel "github.com/Strob0t/taskrunner/internal/adapter/otel"
	"github.com/Strob0t/taskrunner/internal/adapter/postgres"
	trredis "github.com/Strob0t/taskrunner/internal/adapter/redis"
	"github.com/Strob0t/taskrunner/internal/adapter/ristretto"
	"github.com/Strob0t/taskrunner/internal/adapter/tiered"
	"github.com/Strob0t/taskrunner/internal/adapter/ws"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/tool"
	"github.com/Strob0t/taskrunner/internal/logger"
	"github.com/Strob0t/taskrunner/internal/middleware"
	"github.com/Strob0t/taskrunner/internal/port/broadcast"
	"github.com/Strob0t/taskrunner/internal/port/cache"
	"github.com/Strob0t/taskrunner/internal/resilience"
	"github.com/Strob0t/taskrunner/internal/service"
	"github.com/Strob0t/taskrunner/internal/worker"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_parallel", cfg.Orchestrator.MaxParallel,
		"max_iterations", cfg.Orchestrator.MaxIterations,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownTel, err := tel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := tel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	key, err := tokenKey(cfg)
	if err != nil {
		return err
	}
	store := postgres.NewStore(pool, key)

	queue, err := trnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	runtime, err := docker.New(ctx, cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("sandbox engine: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.TeardownTimeout)
		defer cancel()
		if err := runtime.Close(sctx); err != nil {
			slog.Warn("sandbox cleanup", "error", err)
		}
	}()

	searchCache, closeCache, err := buildCache(ctx, cfg.Cache, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Event channel ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()
	emitters := broadcast.Multi{broadcast.Logged(hub)}
	checks := map[string]trhttp.HealthCheck{
		"postgres": pool.Ping,
		"nats": func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		},
	}
	if cfg.Redis.Enabled {
		rdb, err := trredis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		emitters = append(emitters, broadcast.Logged(rdb))
		checks["redis"] = rdb.Ping
	}

	// --- Services ---

	client := &http.Client{Timeout: cfg.Tools.HTTPTimeout, Transport: tel.Transport(nil)}
	catalog := tool.DefaultCatalog()
	router := service.NewModelRouter(cfg.LLM, llmapi.Build(cfg.LLM, resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)), metrics)
	searcher := service.NewWebSearcher(client, cfg.Tools, searchCache)
	if searcher.Mocked() {
		slog.Warn("tools.search_url not set, web_search returns mock results")
	}
	invoker := service.NewToolInvoker(catalog, runtime, client, searcher, cfg.Tools, metrics)
	orchestrator := service.NewOrchestrator(store, runtime, router, invoker, emitters, cfg, metrics)
	dispatcher := service.NewDispatcher(queue, orchestrator, store, worker.NewPool(cfg.Orchestrator.MaxParallel))

	slog.Info("model providers", "providers", router.Providers(), "default", cfg.LLM.DefaultProvider)

	// --- HTTP ---

	handlers := &trhttp.Handlers{
		Store:      store,
		Dispatcher: dispatcher,
		Tools:      catalog,
		Router:     router,
		Checks:     checks,
	}

	var submitLimit func(http.Handler) http.Handler
	var limiter *middleware.SubmitLimiter
	if cfg.Server.SubmitRate > 0 {
		limiter = middleware.NewSubmitLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
		submitLimit = limiter.Handler
	}

	r := chi.NewRouter()
	r.Use(trhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(trhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(tel.HTTPMiddleware("taskrunner.http"))
	trhttp.MountRoutes(r, handlers, hub.HandleWS, submitLimit)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var mcpSrv *trmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = trmcp.NewServer(trmcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "taskrunner",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, trmcp.ServerDeps{Tasks: store, Submitter: dispatcher, Catalog: catalog})
	}

	// --- Run ---

	if mcpSrv != nil {
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := dispatcher.Start(gctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx, time.Minute, 10*time.Minute) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dispatcher.Stop()
		if mcpSrv != nil {
			if err := mcpSrv.Stop(sctx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		err := srv.Shutdown(sctx)
		// Executions were started from gctx and are cancelled with it; wait
		// for them to write their final status and tear down sandboxes.
		dispatcher.Wait()
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
		return err
	})

	return g.Wait()
}

// tokenKey derives the git token encryption key. Without a configured
// secret, projects with tokens cannot be read.
func tokenKey(cfg *config.Config) ([]byte, error) {
	if cfg.Secrets.TokenKey == "" {
		slog.Warn("secrets.token_key not set, projects with git access tokens cannot be used")
		return nil, nil
	}
	key, err := project.DeriveKey(cfg.Secrets.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("token key: %w", err)
	}
	return key, nil
}

// buildCache assembles the search cache: in-process ristretto backed by a
// JetStream KV bucket shared between runners.
func buildCache(ctx context.Context, cfg config.Cache, kv natskv.KeyValueOpener) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}
	l2, err := natskv.Open(ctx, kv, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		slog.Warn("l2 cache unavailable, using in-process cache only", "error", err)
		return l1, l1.Close, nil
	}
	return tiered.New(l1, l2, cfg.L2TTL), l1.Close, nil
}
