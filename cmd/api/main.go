package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cvtor/internal/api"
	"cvtor/internal/auth"
	"cvtor/internal/billing"
	"cvtor/internal/config"
	"cvtor/internal/database"
	"cvtor/internal/export"
	"cvtor/internal/generator"
	"cvtor/internal/pdf"
	"cvtor/internal/render"
	"cvtor/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("api bootstrapped",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
	)

	db, err := database.InitDatabase(cfg.Database, logger)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	authService, err := auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	renderer := render.NewRenderer(render.NewStore(cfg.Templates.Dir))
	pdfRenderer, err := pdf.New(cfg.Export.PDFBackend, pdf.Options{ChromePath: cfg.Export.ChromePath})
	if err != nil {
		log.Fatalf("init pdf renderer: %v", err)
	}
	exporter, err := export.NewService(renderer, pdfRenderer, cfg.Export.OutputDir, cfg.Export.PublicPrefix, cfg.Export.PDFTimeout, logger)
	if err != nil {
		log.Fatalf("init export service: %v", err)
	}

	provider, err := generator.NewProvider(context.Background(), cfg.AI)
	if err != nil {
		log.Fatalf("init ai provider: %v", err)
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}
	if provider == nil {
		logger.Warn("ai provider not configured, generation returns sample data")
	}

	subscriptions := billing.NewSubscriptions(db)
	var stripeGateway billing.StripeGateway
	if cfg.Stripe.Enabled() {
		stripeGateway = billing.NewStripeGateway(cfg.Stripe.SecretKey)
	}
	var fedapayGateway billing.FedaPayGateway
	if cfg.FedaPay.Enabled() {
		fedapayGateway = billing.NewFedaPayClient(cfg.FedaPay.SecretKey, cfg.FedaPay.Environment)
	}

	deps := api.Dependencies{
		DB:                    db,
		AuthService:           authService,
		Redis:                 redisClient,
		Queue:                 asynqClient,
		Renderer:              renderer,
		Exporter:              exporter,
		Generator:             generator.New(provider, cfg.AI.Timeout, logger),
		Stripe:                billing.NewStripe(cfg.Stripe, cfg.API.FrontendURL, stripeGateway, subscriptions, logger),
		FedaPay:               billing.NewFedaPay(cfg.FedaPay, cfg.API.FrontendURL, fedapayGateway, subscriptions, logger),
		Logger:                logger,
		LoginRateLimitPerHour: cfg.Auth.LoginRateLimitPerHour,
		LoginLockThreshold:    cfg.Auth.LoginLockThreshold,
		LoginLockTTL:          cfg.Auth.LoginLockTTL,
		CookieDomain:          cfg.Auth.CookieDomain,
		AllowedOrigins:        cfg.API.AllowedOrigins(),
	}

	// Thumbnails are optional for the API; without MinIO their objects are simply left behind.
	if storageClient, err := storage.NewClient(cfg.MinIO); err != nil {
		logger.Warn("storage unavailable, thumbnail cleanup disabled", slog.Any("error", err))
	} else {
		deps.Objects = storageClient
	}

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, deps)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
