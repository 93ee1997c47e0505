package pdf

import (
	"strings"
	"testing"
)

func TestSuppressExportControlsInjectsIntoHead(t *testing.T) {
	html := "<!DOCTYPE html><html><head><title>x</title></head><body><div class=\"pdf-button-container\"></div></body></html>"

	out := SuppressExportControls(html)

	styleAt := strings.Index(out, ".pdf-button-container{display:none !important;}")
	headEnd := strings.Index(out, "</head>")
	if styleAt < 0 || headEnd < 0 || styleAt > headEnd {
		t.Fatalf("suppression style must sit inside head: %s", out)
	}
	if SuppressExportControls(out) != out {
		t.Fatal("suppression must be idempotent")
	}
}

func TestSuppressExportControlsWithoutHead(t *testing.T) {
	out := SuppressExportControls("<p>fragment</p>")
	if !strings.HasPrefix(out, "<style") || !strings.HasSuffix(out, "<p>fragment</p>") {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	r, err := New("rod", Options{})
	if err != nil {
		t.Fatalf("rod: %v", err)
	}
	if _, ok := r.(*RodRenderer); !ok {
		t.Fatalf("expected rod renderer, got %T", r)
	}

	r, err = New("ChromeDP", Options{ChromePath: "/usr/bin/chromium"})
	if err != nil {
		t.Fatalf("chromedp: %v", err)
	}
	if c, ok := r.(*ChromedpRenderer); !ok || c.chromePath != "/usr/bin/chromium" {
		t.Fatalf("expected chromedp renderer, got %#v", r)
	}

	if _, err := New("prince", Options{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
