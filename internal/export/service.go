package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cvtor/internal/errcode"
	"cvtor/internal/metrics"
	"cvtor/internal/pdf"
	"cvtor/internal/render"
	"cvtor/internal/resume"
)

// Supported formats.
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
)

// Result locates an exported document.
type Result struct {
	File string `json:"file"`
	URL  string `json:"url"`
}

// Service writes exported documents under a single output directory.
// File names are always generated here; callers cannot choose them.
type Service struct {
	renderer     *render.Renderer
	pdf          pdf.Renderer
	outputDir    string
	publicPrefix string
	pdfTimeout   time.Duration
	logger       *slog.Logger
}

// NewService builds an export service and creates outputDir if needed.
func NewService(renderer *render.Renderer, pdfRenderer pdf.Renderer, outputDir, publicPrefix string, pdfTimeout time.Duration, logger *slog.Logger) (*Service, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		renderer:     renderer,
		pdf:          pdfRenderer,
		outputDir:    outputDir,
		publicPrefix: publicPrefix,
		pdfTimeout:   pdfTimeout,
		logger:       logger,
	}, nil
}

// OutputDir is the directory served under the public prefix.
func (s *Service) OutputDir() string { return s.outputDir }

// ExportPDF renders templateName with data and prints it to a new PDF file.
func (s *Service) ExportPDF(ctx context.Context, templateName string, data map[string]any) (Result, error) {
	html, err := s.renderer.Render(templateName, data)
	if err != nil {
		metrics.ObserveExport(FormatPDF, err)
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.pdfTimeout)
	defer cancel()

	result, err := s.write(FormatPDF, func(w io.Writer) error {
		content, err := s.pdf.RenderPDF(ctx, html)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errcode.Wrap(errcode.InternalRender, fmt.Errorf("pdf rendering exceeded %s: %w", s.pdfTimeout, err))
			}
			return errcode.Wrap(errcode.InternalRender, err)
		}
		_, err = io.Copy(w, bytes.NewReader(content))
		return err
	})
	metrics.ObserveExport(FormatPDF, err)
	return result, err
}

// ExportDOCX writes data as an office document.
func (s *Service) ExportDOCX(_ context.Context, data map[string]any) (Result, error) {
	payload := resume.FromMap(data)
	result, err := s.write(FormatDOCX, func(w io.Writer) error {
		return WriteDOCX(w, payload)
	})
	metrics.ObserveExport(FormatDOCX, err)
	return result, err
}

// write streams into a hidden temp file and renames it to CV_<uuid>.<ext> on success.
// The temp file is removed on every other path.
func (s *Service) write(ext string, fill func(io.Writer) error) (Result, error) {
	tmp, err := os.CreateTemp(s.outputDir, ".export-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.logger.Warn("remove temp export failed", slog.String("path", tmpPath), slog.Any("error", rmErr))
			}
		}
	}()

	if err := fill(tmp); err != nil {
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}

	name := FileName(ext)
	finalPath := filepath.Join(s.outputDir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Result{}, fmt.Errorf("commit export: %w", err)
	}
	committed = true

	s.logger.Info("document exported", slog.String("format", ext), slog.String("file", name))
	return Result{
		File: finalPath,
		URL:  path.Join(s.publicPrefix, name),
	}, nil
}

// FileName returns a fresh CV_<uuid>.<ext> name.
func FileName(ext string) string {
	return "CV_" + uuid.NewString() + "." + ext
}
