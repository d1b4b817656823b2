package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/aiclient"
	"github.com/openclaw/botforge-relay/internal/artifact"
	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/config"
	"github.com/openclaw/botforge-relay/internal/database"
	"github.com/openclaw/botforge-relay/internal/handler"
	"github.com/openclaw/botforge-relay/internal/jobs"
	"github.com/openclaw/botforge-relay/internal/middleware"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/redis"
	"github.com/openclaw/botforge-relay/internal/repository"
	"github.com/openclaw/botforge-relay/internal/service"
	"github.com/openclaw/botforge-relay/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("K_SERVICE") != "" || os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var db *database.DB
	if cfg.StoreBackend == config.StoreBackendPostgres {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		cancel()
		log.Info().Msg("database connected")
	}

	documents, err := openStore(cfg, db, cfg.DatabasePath(), service.DocumentDatabase, model.NewDocument)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open account store")
	}
	settings, err := openStore(cfg, db, cfg.SettingsPath(), service.DocumentSettings, model.NewSettings)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open settings store")
	}
	history, err := openStore(cfg, db, cfg.HistoryPath(), service.DocumentHistory, model.NewHistoryDocument)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	log.Info().Str("backend", cfg.StoreBackend).Msg("stores opened")

	var (
		journal     service.HandleJournal
		rateLimiter middleware.Limiter
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		journal = redis.NewHandleJournal(redisClient.Client)
		rateLimiter = service.NewRateLimiter(redisClient.Client)
	}

	cat, err := catalog.Load(cfg.ModelsFile, cfg.DefaultModel, settings)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model catalog")
	}

	artifacts, err := artifact.NewStore(cfg.BotsPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bots directory")
	}

	accountRepo := repository.NewAccountRepository(documents)
	botRepo := repository.NewBotRepository(documents)
	historyRepo := repository.NewHistoryRepository(history)
	statsRepo := repository.NewStatsRepository(documents)

	aiClient := aiclient.NewClient(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AITimeout())

	ledger := service.NewLedger(accountRepo, cat)
	supervisor := service.NewSupervisor(artifacts, botRepo, journal, cfg.BotInterpreter, cfg.StopGrace())

	startupCtx, startupCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if orphans, err := supervisor.ReportOrphans(startupCtx); err != nil {
		log.Error().Err(err).Msg("failed to inspect handle journal")
	} else if len(orphans) > 0 {
		log.Warn().Int("count", len(orphans)).Msg("bot processes from a previous run may still be alive")
	}
	if cleared, err := supervisor.ReconcileAll(startupCtx); err != nil {
		log.Error().Err(err).Msg("failed to reconcile bot state")
	} else if cleared > 0 {
		log.Info().Int("bots", cleared).Msg("cleared running flags left by a previous run")
	}
	startupCancel()

	accountService := service.NewAccountService(accountRepo, ledger, cat)
	botService := service.NewBotService(
		botRepo, ledger, cat, artifacts,
		service.NewCodeGenerator(aiClient), supervisor,
	)
	chatService := service.NewChatService(historyRepo, ledger, aiClient, cfg.HistoryLimit)
	adminService := service.NewAdminService(
		accountRepo, statsRepo, ledger, cat,
		map[string]service.Exporter{
			service.DocumentDatabase: documents,
			service.DocumentSettings: settings,
			service.DocumentHistory:  history,
		},
	)

	serviceAuth := middleware.NewServiceAuthMiddleware(cfg.ServiceToken)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminToken)
	userRateLimit := middleware.NewUserRateLimitMiddleware(rateLimiter, cfg.UserRateLimitPerMinute, time.Minute, "user")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	accountHandler := handler.NewAccountHandler(accountService, cat)
	botHandler := handler.NewBotHandler(botService)
	chatHandler := handler.NewChatHandler(chatService)
	adminHandler := handler.NewAdminHandler(adminService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(serviceAuth.Handler)
		r.Get("/models", accountHandler.ListModels)

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Use(userRateLimit.Handler)
			r.Get("/", accountHandler.GetAccount)
			r.Get("/models", accountHandler.UserModels)
			r.Put("/model", accountHandler.SelectModel)
			r.Get("/balance/{model}", accountHandler.GetBalance)
			r.Post("/chat", chatHandler.Ask)
			r.Get("/history", chatHandler.History)
			r.Delete("/history", chatHandler.ClearHistory)
			r.Mount("/bots", botHandler.Routes())
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(ledger, supervisor, cfg.SweepInterval())
	sweepJob.Start()
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	supervisor.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}

func openStore[T any](cfg *config.Config, db *database.DB, path, name string, newDoc func() *T) (store.DocumentStore[T], error) {
	if cfg.StoreBackend == config.StoreBackendPostgres {
		return store.NewPostgresStore(db.DB, name, newDoc), nil
	}
	fileStore, err := store.NewFileStore(path, newDoc)
	if err != nil {
		return nil, err
	}
	return fileStore, nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
