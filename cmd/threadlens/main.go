package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aurelle-dev/threadlens/internal/config"
	"github.com/aurelle-dev/threadlens/internal/dataset"
	"github.com/aurelle-dev/threadlens/internal/db"
	dbRedis "github.com/aurelle-dev/threadlens/internal/db/redis"
	"github.com/aurelle-dev/threadlens/internal/domain"
	logpkg "github.com/aurelle-dev/threadlens/internal/logger"
	"github.com/aurelle-dev/threadlens/internal/metrics"
	budgetrepo "github.com/aurelle-dev/threadlens/internal/repository/budget"
	"github.com/aurelle-dev/threadlens/internal/repository/embcache"
	"github.com/aurelle-dev/threadlens/internal/transport/httpapi"
	openaiEmb "github.com/aurelle-dev/threadlens/internal/transport/openai"
	"github.com/aurelle-dev/threadlens/internal/transport/ws"
	embeddinguc "github.com/aurelle-dev/threadlens/internal/usecase/embedding"
	healthuc "github.com/aurelle-dev/threadlens/internal/usecase/health"
	recommenduc "github.com/aurelle-dev/threadlens/internal/usecase/recommend"
	"github.com/aurelle-dev/threadlens/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting threadlens API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("datasets_dir", cfg.Datasets.Dir),
		zap.Int("datasets", len(cfg.Datasets.Datasets)),
	)

	ctx := context.Background()

	// Optional embedding cache backend.
	var store db.Store
	if cfg.Cache.Enabled() {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterQueryMetrics()

	// One BudgetTracker per provider, shared across its vectorizers.
	budgets := make(map[string]embeddinguc.BudgetChecker)
	for provName, provCfg := range cfg.Embedding.Providers {
		b := provCfg.Budget
		if b.DailyTokenLimit <= 0 && b.MonthlyTokenLimit <= 0 {
			continue
		}
		action := embeddinguc.BudgetActionWarn
		if b.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		tracker := embeddinguc.NewBudgetTracker(
			provName, b.DailyTokenLimit, b.MonthlyTokenLimit, action, logger,
		)
		if store != nil {
			tracker.WithStore(ctx, budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour))
		}
		budgets[provName] = tracker
	}

	// One embedder chain per vectorizer, shared by the datasets using it.
	embedders := make(map[string]domain.Embedder, len(cfg.Embedding.Vectorizers))
	for name, vecCfg := range cfg.Embedding.Vectorizers {
		embedders[name] = buildEmbedder(vecCfg, cfg.Embedding.Providers[vecCfg.Provider], store, budgets[vecCfg.Provider], logger)
		logger.Info("Embedder created",
			zap.String("vectorizer", name),
			zap.String("provider", vecCfg.Provider),
			zap.String("model", vecCfg.Model),
			zap.Int("dimensions", vecCfg.Dimensions),
		)
	}

	// Load dataset snapshots.
	registry := dataset.NewRegistry()
	defer registry.Close()
	for _, dc := range cfg.Datasets.Datasets {
		start := time.Now()
		d, err := dataset.Load(cfg.Datasets.Dir, dc.Name, dataset.LoadOptions{LoadANN: dc.ANN})
		if err != nil {
			logger.Fatal("Failed to load dataset", zap.String("name", dc.Name), zap.Error(err))
		}
		if err := registry.Add(dataset.Entry{Dataset: d, Embedder: embedders[dc.Vectorizer]}); err != nil {
			logger.Fatal("Failed to register dataset", zap.String("name", dc.Name), zap.Error(err))
		}
		logger.Info("Dataset loaded",
			zap.String("name", dc.Name),
			zap.Int("rows", d.Table.Len()),
			zap.Int("emb_dim", d.EmbDim()),
			zap.Bool("ann", dc.ANN),
			zap.Duration("took", time.Since(start)),
		)
	}

	querySvc := recommenduc.New(registry, logger)

	var cachePinger healthuc.CachePinger
	if store != nil {
		cachePinger = store
	}
	// Pass nil interface (not typed nil pointer!) when nothing to check.
	var embHealth healthuc.EmbeddingChecker
	if hc := newEmbeddingHealthChecker(embedders); hc != nil {
		embHealth = hc
	}
	healthSvc := healthuc.New(registry, cachePinger, embHealth)

	wsHandler := ws.NewHandler(querySvc, logger)
	server := httpapi.NewServer(querySvc, healthSvc, wsHandler, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker probes every configured embedder that can report
// health.
type embeddingHealthChecker struct {
	embedders map[string]domain.Embedder
}

func newEmbeddingHealthChecker(embedders map[string]domain.Embedder) *embeddingHealthChecker {
	if len(embedders) == 0 {
		return nil
	}
	return &embeddingHealthChecker{embedders: embedders}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	for name, e := range h.embedders {
		if hc, ok := e.(domain.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("embedder %s: %w", name, err)
			}
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	vecCfg config.VectorizerConfig,
	provCfg config.ProviderConfig,
	store db.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      vecCfg.Model,
		Dimensions: vecCfg.Dimensions,
		Provider:   vecCfg.Provider,
		Logger:     logger,
	})

	// Cached
	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, metrics.EmbeddingCacheTotal, logger)
	}

	// Instrumented (budget + metrics)
	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, vecCfg.Provider, vecCfg.Model, budget, logger,
	)

	// Instruction prefix (outermost, so the cache key includes the instruction)
	if vecCfg.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, vecCfg.QueryInstruction)
	}
	return embedder
}
