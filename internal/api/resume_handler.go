package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvtor/internal/database"
	"cvtor/internal/quota"
	"cvtor/internal/render"
)

const resumeNotFoundMessage = "Resume not found"

var (
	errInvalidResumeID = errors.New("invalid resume id")
	errUnknownTemplate = errors.New("unknown template")
)

// ResumeHandler serves owner-scoped resume CRUD and the quota status.
type ResumeHandler struct {
	db     *gorm.DB
	gate   *quota.Gate
	store  *render.Store
	logger *slog.Logger
}

// NewResumeHandler builds a ResumeHandler.
func NewResumeHandler(db *gorm.DB, gate *quota.Gate, store *render.Store, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{db: db, gate: gate, store: store, logger: logger}
}

type createResumeRequest struct {
	Title        string         `json:"title" binding:"required,max=255"`
	TemplateName string         `json:"template_name" binding:"required,max=128"`
	Data         datatypes.JSON `json:"data" binding:"required"`
	IsPublic     bool           `json:"is_public"`
}

type updateResumeRequest struct {
	Title        *string        `json:"title" binding:"omitempty,max=255"`
	TemplateName *string        `json:"template_name" binding:"omitempty,max=128"`
	Data         datatypes.JSON `json:"data"`
	IsPublic     *bool          `json:"is_public"`
}

type resumeResponse struct {
	ID           uint           `json:"id"`
	UserID       uint           `json:"user_id"`
	Title        string         `json:"title"`
	TemplateName string         `json:"template_name"`
	Data         datatypes.JSON `json:"data"`
	IsPublic     bool           `json:"is_public"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ID:           r.ID,
		UserID:       r.UserID,
		Title:        r.Title,
		TemplateName: r.TemplateName,
		Data:         r.Data,
		IsPublic:     r.IsPublic,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// CreateResume saves a new resume if the owner's plan allows another one.
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	var req createResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	if !isJSONObject(req.Data) {
		BadRequest(c, "data must be a JSON object")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	templateName, err := h.resolveTemplate(ctx, req.TemplateName)
	if err != nil {
		h.replyTemplateError(c, logger, req.TemplateName, err)
		return
	}

	resume := database.Resume{
		UserID:       userID,
		Title:        strings.TrimSpace(req.Title),
		TemplateName: templateName,
		Data:         req.Data,
		IsPublic:     req.IsPublic,
	}

	if err := h.gate.Create(ctx, &resume); err != nil {
		switch {
		case errors.Is(err, quota.ErrLimitReached):
			logger.Info("resume creation refused: quota reached")
			Forbidden(c, quota.LimitMessage)
		case errors.Is(err, quota.ErrUserNotFound):
			Unauthorized(c)
		default:
			logger.Error("create resume failed", slog.Any("error", err))
			Internal(c, "failed to create resume")
		}
		return
	}

	logger.Info("resume created", slog.Uint64("resume_id", uint64(resume.ID)))
	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

// ListResumes lists the caller's resumes, newest first.
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resumes []database.Resume
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&resumes).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list resumes failed", slog.Any("error", err))
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeResponse, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, newResumeResponse(r))
	}
	c.JSON(http.StatusOK, items)
}

// GetResume returns one resume owned by the caller.
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// UpdateResume applies the provided fields to a resume owned by the caller.
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	var req updateResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			BadRequest(c, "title must not be empty")
			return
		}
		updates["title"] = title
	}
	if req.TemplateName != nil {
		templateName, err := h.resolveTemplate(ctx, *req.TemplateName)
		if err != nil {
			h.replyTemplateError(c, logger, *req.TemplateName, err)
			return
		}
		updates["template_name"] = templateName
	}
	if len(req.Data) > 0 {
		if !isJSONObject(req.Data) {
			BadRequest(c, "data must be a JSON object")
			return
		}
		updates["data"] = req.Data
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(resume).Updates(updates).Error; err != nil {
			logger.Error("update resume failed", slog.Any("error", err))
			Internal(c, "failed to update resume")
			return
		}
	}

	updated, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(*updated))
}

// DeleteResume removes a resume owned by the caller.
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	// Unscoped so the row no longer counts against the quota.
	if err := h.db.WithContext(ctx).Unscoped().Delete(resume).Error; err != nil {
		loggerFromContext(c, h.logger).Error("delete resume failed", slog.Any("error", err))
		Internal(c, "failed to delete resume")
		return
	}
	c.Status(http.StatusNoContent)
}

// Quota reports the caller's plan, resume count and remaining allowance.
func (h *ResumeHandler) Quota(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	status, err := h.gate.Status(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, quota.ErrUserNotFound) {
			Unauthorized(c)
			return
		}
		loggerFromContext(c, h.logger).Error("load quota failed", slog.Any("error", err))
		Internal(c, "failed to load quota")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ResumeHandler) getResumeForUser(ctx context.Context, rawID string, userID uint) (*database.Resume, error) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return nil, errInvalidResumeID
	}

	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&resume).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

func (h *ResumeHandler) replyLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidResumeID):
		BadRequest(c, "invalid resume id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, resumeNotFoundMessage)
	default:
		loggerFromContext(c, h.logger).Error("query resume failed", slog.Any("error", err))
		Internal(c, "failed to query resume")
	}
}

func (h *ResumeHandler) replyTemplateError(c *gin.Context, logger *slog.Logger, name string, err error) {
	if errors.Is(err, errUnknownTemplate) {
		NotFound(c, "Template '"+name+"' not found")
		return
	}
	logger.Error("resolve template failed", slog.Any("error", err))
	Internal(c, "failed to resolve template")
}

// resolveTemplate accepts an active catalog slug or an on-disk bundle name.
func (h *ResumeHandler) resolveTemplate(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errUnknownTemplate
	}

	var count int64
	if err := h.db.WithContext(ctx).
		Model(&database.Template{}).
		Where("slug = ? AND is_active = ?", strings.ToLower(name), true).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return strings.ToLower(name), nil
	}

	if h.store != nil && h.store.Has(name) {
		return name, nil
	}
	return "", errUnknownTemplate
}

func isJSONObject(raw []byte) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
