package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-chatops/internal/api"
	"github.com/miradorstack/mirador-chatops/internal/cache"
	"github.com/miradorstack/mirador-chatops/internal/catalog"
	"github.com/miradorstack/mirador-chatops/internal/completion"
	"github.com/miradorstack/mirador-chatops/internal/config"
	"github.com/miradorstack/mirador-chatops/internal/conversation"
	"github.com/miradorstack/mirador-chatops/internal/engine"
	"github.com/miradorstack/mirador-chatops/internal/extractors"
	"github.com/miradorstack/mirador-chatops/internal/intent"
	"github.com/miradorstack/mirador-chatops/internal/metrics"
	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/patterns"
	"github.com/miradorstack/mirador-chatops/internal/repo"
	"github.com/miradorstack/mirador-chatops/internal/resolver"
	"github.com/miradorstack/mirador-chatops/internal/services"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser := utils.NewFileLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()
	logger.Info("starting mirador-chatops",
		slog.String("address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider(cfg.Cache.MaxEntries)
	}
	defer cacheProvider.Close()

	monitor := repo.NewMonitoringClient(cfg.Clients.Monitoring, cacheProvider, cfg.Cache.CatalogTTL, cfg.Cache.MetricsTTL, logger)

	catalogHolder, err := startCatalog(ctx, cfg, monitor, logger)
	if err != nil {
		logger.Error("failed to start catalog", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := openStore(ctx, cfg.Conversation, logger)
	if err != nil {
		logger.Error("failed to open conversation store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	rules, err := patterns.NewHolder(cfg.Intent.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err := rules.Watch(ctx); err != nil {
			logger.Warn("rule pack watch stopped", slog.Any("error", err))
		}
	}()

	backends, err := completion.Build(ctx, cfg.Completion, logger)
	if err != nil {
		logger.Error("failed to build completion backends", slog.Any("error", err))
		os.Exit(1)
	}
	backend, err := completion.Select(cfg.Completion, backends, logger)
	if err != nil {
		logger.Error("failed to select completion backend", slog.Any("error", err))
		os.Exit(1)
	}
	backendName := ""
	if backend != nil {
		backendName = backend.Name()
	}

	entities := resolver.New(catalogHolder, resolver.Config{
		AmbiguityMargin: cfg.Resolver.AmbiguityMargin,
		MinConfidence:   cfg.Resolver.MinConfidence,
		FuzzyMinScore:   cfg.Resolver.FuzzyMinScore,
		TopK:            cfg.Resolver.TopK,
	})
	intents := intent.New(entities, rules, backend, intent.Config{
		ConfidenceFloor:  cfg.Intent.ConfidenceFloor,
		DefaultTimeframe: cfg.Intent.DefaultTimeframe,
	}, logger)

	pipeline := engine.NewPipeline(
		logger,
		store,
		conversation.NewSessionLocks(),
		intents,
		catalogHolder,
		monitor,
		engine.NewCorrelationFilter(logger, models.ParseSeverity(cfg.Correlation.HighSeverity)),
		extractors.NewMetricsAnalyzer(extractors.DefaultThresholds()),
	)

	chatService := services.NewConversationService(logger, pipeline, catalogHolder, backendName)

	server, err := api.NewServer(cfg.Server, chatService.GRPC())
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		// Serve /metrics on the chat listener too when there is no dedicated one.
		var metricsHandler http.Handler
		if metricsServer == nil {
			metricsHandler = promhttp.Handler()
		}
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddress,
			Handler:           api.NewHTTPHandler(chatService, chatService.Health, metricsHandler, cfg.Server.AllowedOrigins, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	for _, srv := range []*http.Server{httpServer, metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http shutdown", slog.String("address", srv.Addr), slog.Any("error", err))
		}
	}

	logger.Info("mirador-chatops stopped")
}

// startCatalog performs the initial load and keeps the catalog fresh, either
// by polling the monitoring API or by watching a YAML file.
func startCatalog(ctx context.Context, cfg *config.Config, monitor *repo.MonitoringClient, logger *slog.Logger) (*catalog.Holder, error) {
	if cfg.Catalog.Source == "file" {
		source := catalog.NewFileSource(cfg.Catalog.Path, logger)
		holder := catalog.NewHolder(logger, source, cfg.Catalog.Aliases)
		if _, err := holder.Refresh(ctx); err != nil {
			return nil, err
		}
		go func() {
			if err := source.Watch(ctx, holder); err != nil {
				logger.Warn("catalog watch stopped", slog.Any("error", err))
			}
		}()
		return holder, nil
	}

	holder := catalog.NewHolder(logger, monitor, cfg.Catalog.Aliases)
	// An unreachable monitoring API at boot leaves the service NOT_SERVING
	// until a later refresh succeeds.
	if _, err := holder.Refresh(ctx); err != nil {
		logger.Warn("initial catalog load failed", slog.Any("error", err))
	}
	go holder.Run(ctx, cfg.Catalog.RefreshInterval)
	return holder, nil
}

func openStore(ctx context.Context, cfg config.ConversationConfig, logger *slog.Logger) (conversation.Store, error) {
	if cfg.Store == "sqlite" {
		logger.Info("using sqlite conversation store", slog.String("path", cfg.SQLitePath))
		store, err := conversation.NewSQLiteStore(logger, cfg.SQLitePath, cfg.RecentEntities, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		go store.Run(ctx, time.Minute)
		return store, nil
	}
	store := conversation.NewMemoryStore(logger, cfg.RecentEntities, cfg.SessionTTL)
	go store.Run(ctx, time.Minute)
	return store, nil
}
