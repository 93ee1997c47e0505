package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const fontSettleTimeout = 3 * time.Second

// waitFonts resolves when web fonts are ready or after the given number of milliseconds.
const waitFonts = `(ms) => {
	if (!document.fonts || !document.fonts.ready) return true;
	return Promise.race([
		document.fonts.ready.then(() => true),
		new Promise((resolve) => setTimeout(() => resolve(false), ms)),
	]);
}`

// PageOptions tunes the page opened by WithRodPage.
type PageOptions struct {
	ChromePath string
	// Viewport is applied before the document is loaded when set.
	Viewport *proto.EmulationSetDeviceMetricsOverride
}

// WithRodPage starts a private headless Chromium, loads html with export controls hidden,
// waits for load and web fonts, and hands the page to use. The browser is torn down when
// use returns or ctx ends.
func WithRodPage(ctx context.Context, opts PageOptions, html string, use func(*rod.Page) error) error {
	l := launcher.New().Context(ctx).Headless(true).NoSandbox(true)
	defer l.Cleanup()
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	} else if bin, found := launcher.LookPath(); found {
		l = l.Bin(bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect chromium: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	if opts.Viewport != nil {
		if err := page.SetViewport(opts.Viewport); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if err := page.SetDocumentContent(SuppressExportControls(html)); err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	// A font that never settles still prints with its fallback.
	_, _ = page.Eval(waitFonts, fontSettleTimeout.Milliseconds())

	return use(page)
}

// RodRenderer is the default PDF backend: one go-rod browser per document.
type RodRenderer struct {
	opts PageOptions
}

// NewRodRenderer creates a go-rod backend.
func NewRodRenderer(opts Options) *RodRenderer {
	return &RodRenderer{opts: PageOptions{ChromePath: opts.ChromePath}}
}

// RenderPDF prints html as A4 with backgrounds and no margins, honouring CSS @page sizes.
func (r *RodRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	var out []byte
	err := WithRodPage(ctx, r.opts, html, func(page *rod.Page) error {
		zero := 0.0
		width, height := paperWidthIn, paperHeightIn
		stream, err := page.PDF(&proto.PagePrintToPDF{
			PrintBackground:   true,
			PreferCSSPageSize: true,
			PaperWidth:        &width,
			PaperHeight:       &height,
			MarginTop:         &zero,
			MarginBottom:      &zero,
			MarginLeft:        &zero,
			MarginRight:       &zero,
		})
		if err != nil {
			return fmt.Errorf("print to pdf: %w", err)
		}
		defer stream.Close()

		out, err = io.ReadAll(stream)
		if err != nil {
			return fmt.Errorf("read pdf stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
