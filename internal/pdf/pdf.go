package pdf

import (
	"context"
	"fmt"
	"strings"
)

// ExportControlSelector marks the interactive export button embedded by some templates.
const ExportControlSelector = ".pdf-button-container"

// A4 paper size in inches.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69
)

// Renderer turns a standalone HTML document into PDF bytes.
// Implementations must honour ctx cancellation and release the browser on every path.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Options configures the headless browser backends.
type Options struct {
	// ChromePath overrides browser discovery when set.
	ChromePath string
}

// New returns the backend named by backend ("rod" or "chromedp").
func New(backend string, opts Options) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "rod":
		return NewRodRenderer(opts), nil
	case "chromedp":
		return NewChromedpRenderer(opts), nil
	default:
		return nil, fmt.Errorf("unknown pdf backend %q", backend)
	}
}

const suppressStyle = `<style data-export="suppress">` + ExportControlSelector + `{display:none !important;}</style>`

// SuppressExportControls hides the export button so it never reaches the printed page.
func SuppressExportControls(html string) string {
	if strings.Contains(html, suppressStyle) {
		return html
	}
	if idx := strings.LastIndex(strings.ToLower(html), "</head>"); idx >= 0 {
		return html[:idx] + suppressStyle + "\n" + html[idx:]
	}
	return suppressStyle + "\n" + html
}
