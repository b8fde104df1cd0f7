package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"callguard/internal/alerts"
	"callguard/internal/api"
	"callguard/internal/api/handlers"
	"callguard/internal/config"
	"callguard/internal/domain/services"
	"callguard/internal/domain/services/ai"
	"callguard/internal/infrastructure/cache"
	"callguard/internal/infrastructure/database"
	"callguard/internal/infrastructure/neural"
	"callguard/internal/metrics"
	"callguard/internal/providers"
	"callguard/internal/streaming"
	"callguard/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting CallGuard")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize infrastructure
	db, redisCache := initInfrastructure(ctx, cfg, log)
	defer func() {
		if db != nil {
			db.Close()
		}
		if redisCache != nil {
			redisCache.Close()
		}
	}()

	// Call history persistence
	var historyRepo services.HistoryRepository
	if db != nil {
		repo, err := database.NewHistoryRepository(ctx, db, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize history repository, history stays in memory")
		} else {
			historyRepo = repo
			log.Info().Msg("call history persistence enabled")
		}
	} else {
		log.Warn().Msg("running without database - call history is in-memory only")
	}

	// Streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without real-time streaming")
			natsPublisher = nil
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	eventBus := streaming.NewEventBus(natsPublisher, log)
	log.Info().Bool("nats_enabled", natsPublisher != nil).Msg("event bus initialized")

	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)

	// Prometheus collectors
	m := metrics.NewDefault()

	// Reference corpus and pattern matching
	corpus := services.NewCorpus(cfg.Corpus, log)
	patternAnalyzer := services.NewPatternAnalyzer(corpus, cfg.Corpus, log)

	// Neural scorer sidecar
	var scorer neural.Scorer
	if cfg.Deepfake.ScorerURL != "" {
		scorer = neural.NewHTTPScorer(cfg.Deepfake, log)
	} else {
		log.Warn().Msg("no neural scorer configured - deepfake detection runs on patterns only")
	}
	ensemble := services.NewDeepfakeEnsemble(scorer, patternAnalyzer, cfg.Deepfake, log)

	// Semantic content classifier
	var classifier ai.SemanticClassifier
	if cfg.Content.ClaudeAPIKey != "" || cfg.Content.OpenAIAPIKey != "" {
		client := ai.NewClient(ai.ClientConfig{
			Provider:     cfg.Content.Provider,
			ClaudeAPIKey: cfg.Content.ClaudeAPIKey,
			OpenAIAPIKey: cfg.Content.OpenAIAPIKey,
			Model:        cfg.Content.Model,
			Timeout:      cfg.Content.ClassifierTimeout,
		}, log)
		classifier = ai.NewLLMClassifier(client, log)
	} else {
		log.Warn().Msg("no classifier credentials - content analysis runs on keywords only")
	}
	contentAnalyzer := services.NewContentAnalyzer(classifier, cfg.Content, log)

	// Phone reputation providers
	var provs []providers.Provider
	if cfg.Providers.Numverify.Enabled {
		provs = append(provs, providers.NewNumverify(providers.Config{
			Enabled: true,
			APIURL:  cfg.Providers.Numverify.APIURL,
			APIKey:  cfg.Providers.Numverify.APIKey,
			Timeout: cfg.Providers.Numverify.Timeout,
		}, log))
	}
	if cfg.Providers.SpamReport.Enabled {
		provs = append(provs, providers.NewSpamReport(providers.Config{
			Enabled: true,
			APIURL:  cfg.Providers.SpamReport.APIURL,
			APIKey:  cfg.Providers.SpamReport.APIKey,
			Timeout: cfg.Providers.SpamReport.Timeout,
		}, log))
	}
	phoneChecker := services.NewPhoneReputationChecker(cfg.Phone, redisCache, provs, log)

	// Risk aggregation
	riskEngine := services.NewRiskEngine(cfg.Risk, log)
	tracker := services.NewFrequencyTracker(cfg.Risk.FrequencyWindow)
	contextual := services.NewContextEvaluator(cfg.Risk, tracker)

	// Alerting
	dispatcher := alerts.NewWebhookDispatcher(cfg.Alerts, log)

	// Session store and pipeline
	store := services.NewSessionStore(historyRepo, log)
	pipeline := services.NewPipeline(cfg.Detectors, cfg.Alerts, cfg.Risk, services.PipelineDeps{
		Store:      store,
		Phone:      phoneChecker,
		Ensemble:   ensemble,
		Content:    contentAnalyzer,
		Risk:       riskEngine,
		Contextual: contextual,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Bus:        eventBus,
		Hub:        wsHub,
		Metrics:    m,
	}, log)

	// HTTP API
	h := handlers.NewHandlers(handlers.Dependencies{
		Pipeline: pipeline,
		Store:    store,
		Corpus:   corpus,
		Cache:    redisCache,
		DB:       db,
		Logger:   log,
	})
	router := api.NewRouter(*cfg, h, wsHub, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	cancel()
	pipeline.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	eventBus.Close()

	log.Info().Msg("shutdown complete")
}

// initInfrastructure connects optional database and cache backends.
// Either may be absent; the services degrade to in-memory operation.
func initInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*database.PostgresDB, *cache.RedisCache) {
	var db *database.PostgresDB
	if cfg.Database.Enabled {
		var err error
		db, err = database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to PostgreSQL, continuing without database")
			db = nil
		}
	}

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		var err error
		redisCache, err = cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing with local caches")
			redisCache = nil
		}
	}

	return db, redisCache
}
