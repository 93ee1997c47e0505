package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"cvtor/internal/config"
	"cvtor/internal/database"
	"cvtor/internal/metrics"
	"cvtor/internal/render"
	"cvtor/internal/storage"
	"cvtor/internal/tasks"
	"cvtor/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, logger)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	thumbnailHandler := worker.NewThumbnailHandler(
		db,
		render.NewRenderer(render.NewStore(cfg.Templates.Dir)),
		worker.NewRodSnapshotter(cfg.Export.ChromePath, logger),
		storageClient,
		worker.NewRedisNotifier(redisClient),
		logger,
	)

	taskMux := asynq.NewServeMux()
	taskMux.Use(metrics.AsynqMetricsMiddleware())
	taskMux.Handle(tasks.TypeTemplateThumbnail, thumbnailHandler)

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
				logger.Error("worker metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(taskMux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
