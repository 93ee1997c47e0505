package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvtor/internal/errcode"
	"cvtor/internal/export"
	"cvtor/internal/generator"
	"cvtor/internal/render"
)

// DocumentHandler serves template discovery, HTML preview, exports and content generation.
type DocumentHandler struct {
	store     *render.Store
	renderer  *render.Renderer
	exporter  *export.Service
	generator *generator.Generator
	logger    *slog.Logger
}

// NewDocumentHandler builds a DocumentHandler.
func NewDocumentHandler(renderer *render.Renderer, exporter *export.Service, gen *generator.Generator, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:     renderer.Store(),
		renderer:  renderer,
		exporter:  exporter,
		generator: gen,
		logger:    logger,
	}
}

// documentRequest is shared by preview and export. Out is accepted for
// compatibility but never used to name the output file.
type documentRequest struct {
	TemplateName string         `json:"template_name" binding:"required"`
	Data         map[string]any `json:"data"`
	Out          string         `json:"out"`
}

// ListTemplates returns the names of the bundles available for rendering.
func (h *DocumentHandler) ListTemplates(c *gin.Context) {
	names, err := h.store.List()
	if err != nil {
		loggerFromContext(c, h.logger).Error("list templates failed", slog.Any("error", err))
		Internal(c, "failed to list templates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": names})
}

// GetTemplate returns a bundle's metadata descriptor.
func (h *DocumentHandler) GetTemplate(c *gin.Context) {
	name := c.Param("name")
	meta, err := h.store.Metadata(name)
	if err != nil {
		if errcode.CodeOf(err) == errcode.NotFound {
			NotFound(c, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		loggerFromContext(c, h.logger).Error("read template metadata failed", slog.Any("error", err))
		Internal(c, "failed to read template")
		return
	}
	c.JSON(http.StatusOK, meta)
}

// PreviewHTML renders a template and returns the HTML document.
func (h *DocumentHandler) PreviewHTML(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	html, err := h.renderer.Render(req.TemplateName, req.Data)
	if err != nil {
		h.replyDocumentError(c, req.TemplateName, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"html": html})
}

// ExportPDF renders a template to a new PDF under the export directory.
func (h *DocumentHandler) ExportPDF(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.exporter.ExportPDF(c.Request.Context(), req.TemplateName, req.Data)
	if err != nil {
		h.replyDocumentError(c, req.TemplateName, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportDOCX writes the raw payload to a new office document.
func (h *DocumentHandler) ExportDOCX(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.exporter.ExportDOCX(c.Request.Context(), req.Data)
	if err != nil {
		h.replyDocumentError(c, req.TemplateName, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Generate fills a resume document. It always answers 200.
func (h *DocumentHandler) Generate(c *gin.Context) {
	var req generator.Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	result := h.generator.Generate(c.Request.Context(), req)
	c.JSON(http.StatusOK, result)
}

func (h *DocumentHandler) replyDocumentError(c *gin.Context, name string, err error) {
	logger := loggerFromContext(c, h.logger).With(slog.String("template", name))
	if errcode.CodeOf(err) == errcode.NotFound {
		logger.Info("template not found")
		NotFound(c, fmt.Sprintf("Template '%s' not found", name))
		return
	}
	logger.Warn("document rendering failed", slog.Any("error", err))
	ErrorFrom(c, err, http.StatusBadRequest)
}
