package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"cvtor/internal/api/middleware"
	"cvtor/internal/database"
	"cvtor/internal/storage"
	"cvtor/internal/tasks"
)

const (
	categoryNotFoundMessage = "Category not found"
	templateNotFoundMessage = "Template not found"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type objectRemover interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// CatalogHandler serves the public template catalog and its admin management.
type CatalogHandler struct {
	db      *gorm.DB
	queue   taskEnqueuer
	objects objectRemover
	logger  *slog.Logger
}

// NewCatalogHandler builds a CatalogHandler. queue and objects may be nil.
func NewCatalogHandler(db *gorm.DB, queue taskEnqueuer, objects objectRemover, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{db: db, queue: queue, objects: objects, logger: logger}
}

type categoryResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type templateResponse struct {
	ID           uint              `json:"id"`
	Title        string            `json:"title"`
	Slug         string            `json:"slug"`
	Description  string            `json:"description"`
	Price        float64           `json:"price"`
	ThumbnailURL string            `json:"thumbnail_url"`
	Category     *categoryResponse `json:"category"`
}

type adminTemplateResponse struct {
	templateResponse
	TemplateData string `json:"template_data"`
	CategoryID   *uint  `json:"category_id"`
	IsActive     bool   `json:"is_active"`
}

func newCategoryResponse(c *database.Category) *categoryResponse {
	if c == nil {
		return nil
	}
	return &categoryResponse{ID: c.ID, Name: c.Name, Slug: c.Slug, Description: c.Description}
}

func newTemplateResponse(t database.Template) templateResponse {
	return templateResponse{
		ID:           t.ID,
		Title:        t.Title,
		Slug:         t.Slug,
		Description:  t.Description,
		Price:        t.Price,
		ThumbnailURL: t.ThumbnailURL,
		Category:     newCategoryResponse(t.Category),
	}
}

func newAdminTemplateResponse(t database.Template) adminTemplateResponse {
	return adminTemplateResponse{
		templateResponse: newTemplateResponse(t),
		TemplateData:     t.TemplateData,
		CategoryID:       t.CategoryID,
		IsActive:         t.IsActive,
	}
}

// ListCategories returns every category.
func (h *CatalogHandler) ListCategories(c *gin.Context) {
	var categories []database.Category
	if err := h.db.WithContext(c.Request.Context()).Order("name ASC").Find(&categories).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list categories failed", slog.Any("error", err))
		Internal(c, "failed to list categories")
		return
	}

	items := make([]*categoryResponse, 0, len(categories))
	for i := range categories {
		items = append(items, newCategoryResponse(&categories[i]))
	}
	c.JSON(http.StatusOK, items)
}

// ListTemplates returns active catalog entries, optionally filtered by category_id.
func (h *CatalogHandler) ListTemplates(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).
		Preload("Category").
		Where("is_active = ?", true)

	if raw := c.Query("category_id"); raw != "" {
		categoryID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			BadRequest(c, "invalid category_id")
			return
		}
		if categoryID > 0 {
			query = query.Where("category_id = ?", uint(categoryID))
		}
	}

	var templates []database.Template
	if err := query.Order("id ASC").Find(&templates).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list templates failed", slog.Any("error", err))
		Internal(c, "failed to list templates")
		return
	}
	c.JSON(http.StatusOK, mapTemplates(templates, newTemplateResponse))
}

// GetTemplateBySlug returns one active catalog entry.
func (h *CatalogHandler) GetTemplateBySlug(c *gin.Context) {
	var template database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Category").
		Where("slug = ? AND is_active = ?", c.Param("slug"), true).
		First(&template).Error; err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, newTemplateResponse(template))
}

// ListTemplatesByCategory returns active entries of the category with the given slug.
func (h *CatalogHandler) ListTemplatesByCategory(c *gin.Context) {
	ctx := c.Request.Context()

	var category database.Category
	if err := h.db.WithContext(ctx).Where("slug = ?", c.Param("category_slug")).First(&category).Error; err != nil {
		h.replyRecordError(c, err, categoryNotFoundMessage)
		return
	}

	var templates []database.Template
	if err := h.db.WithContext(ctx).
		Preload("Category").
		Where("category_id = ? AND is_active = ?", category.ID, true).
		Order("id ASC").
		Find(&templates).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list templates by category failed", slog.Any("error", err))
		Internal(c, "failed to list templates")
		return
	}
	c.JSON(http.StatusOK, mapTemplates(templates, newTemplateResponse))
}

type categoryRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=128"`
	Slug        *string `json:"slug" binding:"omitempty,max=128"`
	Description *string `json:"description"`
}

// CreateCategory adds a category with a unique name and slug.
func (h *CatalogHandler) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	name, slug := trimmed(req.Name), strings.ToLower(trimmed(req.Slug))
	if name == "" || slug == "" {
		BadRequest(c, "name and slug are required")
		return
	}

	ctx := c.Request.Context()
	taken, err := h.categoryTaken(ctx, 0, name, slug)
	if err != nil {
		loggerFromContext(c, h.logger).Error("category lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if taken {
		BadRequest(c, "Category with this name or slug already exists")
		return
	}

	category := database.Category{Name: name, Slug: slug, Description: trimmed(req.Description)}
	if err := h.db.WithContext(ctx).Create(&category).Error; err != nil {
		loggerFromContext(c, h.logger).Error("create category failed", slog.Any("error", err))
		Internal(c, "failed to create category")
		return
	}
	c.JSON(http.StatusCreated, newCategoryResponse(&category))
}

// UpdateCategory applies the provided fields to a category.
func (h *CatalogHandler) UpdateCategory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var category database.Category
	if err := h.db.WithContext(ctx).First(&category, id).Error; err != nil {
		h.replyRecordError(c, err, categoryNotFoundMessage)
		return
	}

	if req.Name != nil {
		category.Name = trimmed(req.Name)
	}
	if req.Slug != nil {
		category.Slug = strings.ToLower(trimmed(req.Slug))
	}
	if req.Description != nil {
		category.Description = trimmed(req.Description)
	}
	if category.Name == "" || category.Slug == "" {
		BadRequest(c, "name and slug must not be empty")
		return
	}

	taken, err := h.categoryTaken(ctx, category.ID, category.Name, category.Slug)
	if err != nil {
		loggerFromContext(c, h.logger).Error("category lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if taken {
		BadRequest(c, "Category with this name or slug already exists")
		return
	}

	if err := h.db.WithContext(ctx).Save(&category).Error; err != nil {
		loggerFromContext(c, h.logger).Error("update category failed", slog.Any("error", err))
		Internal(c, "failed to update category")
		return
	}
	c.JSON(http.StatusOK, newCategoryResponse(&category))
}

// DeleteCategory removes a category; its templates keep existing without one.
func (h *CatalogHandler) DeleteCategory(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var category database.Category
		if err := tx.First(&category, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.Template{}).
			Where("category_id = ?", category.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&category).Error
	})
	if err != nil {
		h.replyRecordError(c, err, categoryNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted successfully"})
}

// AdminListTemplates returns every catalog entry, active or not, with skip/limit paging.
func (h *CatalogHandler) AdminListTemplates(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		BadRequest(c, "invalid skip")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		BadRequest(c, "invalid limit")
		return
	}

	var templates []database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Category").
		Order("id ASC").
		Offset(skip).
		Limit(limit).
		Find(&templates).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list templates failed", slog.Any("error", err))
		Internal(c, "failed to list templates")
		return
	}
	c.JSON(http.StatusOK, mapTemplates(templates, newAdminTemplateResponse))
}

// AdminGetTemplate returns one catalog entry by id.
func (h *CatalogHandler) AdminGetTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	template, err := h.loadTemplate(c.Request.Context(), id)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, newAdminTemplateResponse(*template))
}

type templateRequest struct {
	Title        *string  `json:"title" binding:"omitempty,max=255"`
	Slug         *string  `json:"slug" binding:"omitempty,max=128"`
	Description  *string  `json:"description"`
	Price        *float64 `json:"price" binding:"omitempty,min=0"`
	CategoryID   *uint    `json:"category_id"`
	TemplateData *string  `json:"template_data"`
	IsActive     *bool    `json:"is_active"`
}

// CreateTemplate adds a catalog entry with a unique slug.
func (h *CatalogHandler) CreateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	title, slug := trimmed(req.Title), strings.ToLower(trimmed(req.Slug))
	if title == "" || slug == "" {
		BadRequest(c, "title and slug are required")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	taken, err := h.slugTaken(ctx, 0, slug)
	if err != nil {
		logger.Error("template lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if taken {
		BadRequest(c, "Template with this slug already exists")
		return
	}
	if !h.categoryExists(c, req.CategoryID) {
		return
	}

	template := database.Template{
		Title:      title,
		Slug:       slug,
		CategoryID: req.CategoryID,
		IsActive:   true,
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.Price != nil {
		template.Price = *req.Price
	}
	if req.TemplateData != nil {
		template.TemplateData = *req.TemplateData
	}

	if err := h.db.WithContext(ctx).Create(&template).Error; err != nil {
		logger.Error("create template failed", slog.Any("error", err))
		Internal(c, "failed to create template")
		return
	}
	// is_active has a column default, so false is written separately.
	if req.IsActive != nil && !*req.IsActive {
		if err := h.db.WithContext(ctx).Model(&template).Update("is_active", false).Error; err != nil {
			logger.Error("deactivate template failed", slog.Any("error", err))
			Internal(c, "failed to create template")
			return
		}
	}

	created, err := h.loadTemplate(ctx, template.ID)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}
	c.JSON(http.StatusCreated, newAdminTemplateResponse(*created))
}

// UpdateTemplate applies the provided fields to a catalog entry.
func (h *CatalogHandler) UpdateTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	template, err := h.loadTemplate(ctx, id)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		if trimmed(req.Title) == "" {
			BadRequest(c, "title must not be empty")
			return
		}
		updates["title"] = trimmed(req.Title)
	}
	if req.Slug != nil {
		slug := strings.ToLower(trimmed(req.Slug))
		if slug == "" {
			BadRequest(c, "slug must not be empty")
			return
		}
		taken, err := h.slugTaken(ctx, template.ID, slug)
		if err != nil {
			logger.Error("template lookup failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if taken {
			BadRequest(c, "Template with this slug already exists")
			return
		}
		updates["slug"] = slug
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.CategoryID != nil {
		if !h.categoryExists(c, req.CategoryID) {
			return
		}
		updates["category_id"] = *req.CategoryID
	}
	if req.TemplateData != nil {
		updates["template_data"] = *req.TemplateData
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&database.Template{ID: template.ID}).Updates(updates).Error; err != nil {
			logger.Error("update template failed", slog.Any("error", err))
			Internal(c, "failed to update template")
			return
		}
	}

	updated, err := h.loadTemplate(ctx, template.ID)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}
	c.JSON(http.StatusOK, newAdminTemplateResponse(*updated))
}

// DeleteTemplate removes a catalog entry and its stored thumbnail.
func (h *CatalogHandler) DeleteTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	template, err := h.loadTemplate(ctx, id)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}

	if err := h.db.WithContext(ctx).Delete(&database.Template{}, template.ID).Error; err != nil {
		logger.Error("delete template failed", slog.Any("error", err))
		Internal(c, "failed to delete template")
		return
	}

	if h.objects != nil && template.ThumbnailURL != "" {
		if err := h.objects.DeleteObject(ctx, storage.ThumbnailKey(template.ID)); err != nil {
			logger.Warn("delete template thumbnail failed", slog.Uint64("template_id", uint64(template.ID)), slog.Any("error", err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted successfully"})
}

// GenerateThumbnail queues a preview rendering for a catalog entry.
func (h *CatalogHandler) GenerateThumbnail(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if h.queue == nil {
		Internal(c, "task queue not configured")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("template_id", uint64(id)))

	template, err := h.loadTemplate(ctx, id)
	if err != nil {
		h.replyRecordError(c, err, templateNotFoundMessage)
		return
	}

	task, err := tasks.NewTemplateThumbnailTask(template.ID, userID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build thumbnail task failed", slog.Any("error", err))
		Internal(c, "failed to create task")
		return
	}
	info, err := h.queue.EnqueueContext(ctx, task)
	if err != nil {
		logger.Error("enqueue thumbnail task failed", slog.Any("error", err))
		Internal(c, "failed to enqueue task")
		return
	}

	logger.Info("thumbnail task enqueued", slog.String("task_id", info.ID))
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task_id": info.ID})
}

func (h *CatalogHandler) loadTemplate(ctx context.Context, id uint) (*database.Template, error) {
	var template database.Template
	if err := h.db.WithContext(ctx).Preload("Category").First(&template, id).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

func (h *CatalogHandler) categoryTaken(ctx context.Context, exceptID uint, name, slug string) (bool, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&database.Category{}).
		Where("(name = ? OR slug = ?) AND id <> ?", name, slug, exceptID).
		Count(&count).Error
	return count > 0, err
}

func (h *CatalogHandler) slugTaken(ctx context.Context, exceptID uint, slug string) (bool, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&database.Template{}).
		Where("slug = ? AND id <> ?", slug, exceptID).
		Count(&count).Error
	return count > 0, err
}

// categoryExists writes a 404 and returns false when id names no category.
func (h *CatalogHandler) categoryExists(c *gin.Context, id *uint) bool {
	if id == nil {
		return true
	}
	var category database.Category
	if err := h.db.WithContext(c.Request.Context()).First(&category, *id).Error; err != nil {
		h.replyRecordError(c, err, categoryNotFoundMessage)
		return false
	}
	return true
}

func (h *CatalogHandler) replyRecordError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, notFound)
		return
	}
	loggerFromContext(c, h.logger).Error("catalog query failed", slog.Any("error", err))
	Internal(c, "internal error")
}

func mapTemplates[T any](templates []database.Template, fn func(database.Template) T) []T {
	items := make([]T, 0, len(templates))
	for _, t := range templates {
		items = append(items, fn(t))
	}
	return items
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
