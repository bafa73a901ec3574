package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis disabled: content cache off, grading lock is process-local")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	provider, err := ai.NewProvider(ai.ProviderConfig{
		Name:      cfg.AIProvider,
		Model:     cfg.AIModel,
		MaxTokens: cfg.AIMaxTokens,
		BaseURL:   cfg.AIBaseURL,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("failed to create ai provider: %v", err)
	}
	if cfg.LLMAPIKey() == "" {
		logger.Warn().Str("provider", cfg.AIProvider).Msg("no api key configured; grading requests will be rejected")
	}

	githubConfig := source.GitHubConfig{
		RawBaseURL: cfg.GitHubRawBaseURL,
		APIBaseURL: cfg.GitHubAPIBaseURL,
		Timeout:    cfg.FetchTimeout,
		CacheTTL:   cfg.FetchCacheTTL,
		Logger:     logger,
	}
	var lock service.GradingLock
	if redisClient != nil {
		githubConfig.Cache = source.NewRedisCache(redisClient, "grader:content")
		lock = service.NewRedisGradingLock(redisClient, "grader", cfg.GradingLockTTL)
	}
	githubFetcher := source.NewGitHubFetcher(githubConfig)
	notebookFetcher := source.NewNotebookFetcher(source.NotebookConfig{
		DownloadURL: cfg.DriveDownloadURL,
		Timeout:     cfg.FetchTimeout,
		Logger:      logger,
	})

	credentials := service.StaticCredentials{
		service.CredentialLLM:    cfg.LLMAPIKey(),
		service.CredentialGitHub: cfg.GitHubToken,
	}

	pipeline := service.NewGradingPipeline(
		githubFetcher,
		notebookFetcher,
		ai.NewFileAnalyzer(provider, cfg.AIMaxTokens, logger),
		ai.NewConsolidator(provider, ai.ConsolidatorConfig{MaxTokens: cfg.AIMaxTokens, MissingFileCap: cfg.GradingMissingFileCap}, logger),
		credentials,
		service.GradingPipelineConfig{
			MapConcurrency:     cfg.GradingConcurrency,
			FetchRetries:       cfg.FetchRetries,
			RetryBackoff:       time.Second,
			IncludeTree:        cfg.GradingIncludeTree,
			ProviderName:       provider.Name(),
			MaxDiscoveredFiles: cfg.GradingMaxTreeFiles,
		},
		logger,
	)

	var events service.GradingEventPublisher
	if redisClient != nil || natsConn != nil {
		events = service.NewGradingEventPublisher(redisClient, natsConn, cfg.EventsTopic, logger)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	activityRepo := repository.NewActivityRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	activityLogRepo := repository.NewActivityLogRepository(db)

	activityService := service.NewActivityService(activityLogRepo, logger)
	submissionService := service.NewSubmissionService(
		activityRepo,
		submissionRepo,
		pipeline,
		lock,
		events,
		activityService,
		validate,
		service.SubmissionConfig{Cooldown: cfg.GradingCooldown},
		logger,
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:  handler.NewSubmissionHandler(submissionService, logger),
		ActivityLogHandler: handler.NewActivityLogHandler(activityService, logger),
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
		SubmitRateLimit:    middleware.RateLimit("submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
