package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"cvtor/internal/pdf"
)

// First A4 page at 96 dpi.
const (
	a4WidthPx  = 794
	a4HeightPx = 1123
)

// Snapshotter turns a rendered HTML document into a JPEG preview.
type Snapshotter interface {
	Capture(ctx context.Context, html string, quality int) ([]byte, error)
}

// RodSnapshotter screenshots the first page of a template through the same browser
// setup the PDF exporter uses, so thumbnails match exported documents.
type RodSnapshotter struct {
	opts   pdf.PageOptions
	logger *slog.Logger
}

// NewRodSnapshotter creates a go-rod snapshotter.
func NewRodSnapshotter(chromePath string, logger *slog.Logger) *RodSnapshotter {
	return &RodSnapshotter{
		opts: pdf.PageOptions{
			ChromePath: chromePath,
			Viewport: &proto.EmulationSetDeviceMetricsOverride{
				Width:             a4WidthPx,
				Height:            a4HeightPx,
				DeviceScaleFactor: 1,
			},
		},
		logger: logger,
	}
}

// Capture returns a JPEG of the first A4 page at the given quality (0-100).
func (s *RodSnapshotter) Capture(ctx context.Context, html string, quality int) ([]byte, error) {
	var image []byte
	err := pdf.WithRodPage(ctx, s.opts, html, func(page *rod.Page) error {
		shot, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format:  proto.PageCaptureScreenshotFormatJpeg,
			Quality: &quality,
			Clip:    &proto.PageViewport{Width: a4WidthPx, Height: a4HeightPx, Scale: 1},
		})
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		image = shot
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "template snapshot failed", slog.Any("error", err))
		return nil, err
	}
	return image, nil
}
