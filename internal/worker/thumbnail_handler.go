package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"cvtor/internal/database"
	"cvtor/internal/errcode"
	"cvtor/internal/render"
	"cvtor/internal/resume"
	"cvtor/internal/tasks"
)

const (
	thumbnailQuality    = 80
	thumbnailPresignTTL = 7 * 24 * time.Hour
	notifyTypeThumbnail = "template_thumbnail"
)

// ObjectStore is the part of the MinIO client used for thumbnails.
type ObjectStore interface {
	PutThumbnail(ctx context.Context, templateID uint, image []byte) (string, error)
	PresignThumbnail(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ThumbnailHandler renders a catalog template with sample data and stores its preview.
type ThumbnailHandler struct {
	db       *gorm.DB
	renderer *render.Renderer
	snapshot Snapshotter
	storage  ObjectStore
	notifier Notifier
	logger   *slog.Logger
}

func NewThumbnailHandler(
	db *gorm.DB,
	renderer *render.Renderer,
	snapshot Snapshotter,
	store ObjectStore,
	notifier Notifier,
	logger *slog.Logger,
) *ThumbnailHandler {
	return &ThumbnailHandler{
		db:       db,
		renderer: renderer,
		snapshot: snapshot,
		storage:  store,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *ThumbnailHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.TemplateThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal template thumbnail payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.Int("template_id", int(payload.TemplateID)),
		slog.String("correlation_id", payload.CorrelationID),
	)
	log.Info("Starting template thumbnail generation task...")

	var template database.Template
	if err := h.db.WithContext(ctx).First(&template, payload.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("template not found, skipping task")
			return nil
		}
		log.Error("query template failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		h.notify(ctx, log, payload, ThumbnailNotifyMessage{
			Status:       NotifyStatusFailed,
			ErrorCode:    errcode.CodeOf(retErr),
			ErrorMessage: retErr.Error(),
		})
	}()

	html, err := h.renderer.Render(template.Slug, resume.Sample())
	if err != nil {
		if errors.Is(err, render.ErrTemplateNotFound) {
			log.Warn("template bundle missing on disk, skipping task", slog.String("slug", template.Slug))
			h.notify(ctx, log, payload, ThumbnailNotifyMessage{
				Status:       NotifyStatusFailed,
				ErrorCode:    errcode.NotFound,
				ErrorMessage: err.Error(),
			})
			return nil
		}
		log.Error("render template failed", slog.Any("error", err))
		return err
	}

	image, err := h.snapshot.Capture(ctx, html, thumbnailQuality)
	if err != nil {
		log.Error("capture template screenshot failed", slog.Any("error", err))
		return err
	}

	key, err := h.storage.PutThumbnail(ctx, template.ID, image)
	if err != nil {
		log.Error("upload template thumbnail failed", slog.Any("error", err))
		return err
	}

	url, err := h.storage.PresignThumbnail(ctx, key, thumbnailPresignTTL)
	if err != nil {
		log.Error("generate template thumbnail url failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).
		Model(&template).
		Update("thumbnail_url", url).Error; err != nil {
		log.Error("update template thumbnail url failed", slog.Any("error", err))
		return err
	}

	h.notify(ctx, log, payload, ThumbnailNotifyMessage{
		Status:       NotifyStatusCompleted,
		ThumbnailURL: url,
	})

	log.Info("Template thumbnail generation completed.")
	return nil
}

func (h *ThumbnailHandler) notify(ctx context.Context, log *slog.Logger, payload tasks.TemplateThumbnailPayload, msg ThumbnailNotifyMessage) {
	if h.notifier == nil || payload.RequesterID == 0 {
		return
	}
	msg.Type = notifyTypeThumbnail
	msg.TemplateID = payload.TemplateID
	msg.CorrelationID = payload.CorrelationID
	if err := h.notifier.Notify(ctx, payload.RequesterID, msg); err != nil {
		log.Warn("publish redis notification failed", slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
