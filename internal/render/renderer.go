package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/Masterminds/sprig/v3"

	"cvtor/internal/errcode"
	"cvtor/internal/resume"
)

var cssImportPattern = regexp.MustCompile(`(?i)@import\s+(?:url\(\s*['"]?([^'")\s]+)['"]?\s*\)|['"]([^'"]+)['"])[^;]*;?`)

// Renderer merges résumé data with a template bundle into a standalone HTML document.
type Renderer struct {
	store *Store
}

// NewRenderer creates a Renderer backed by store.
func NewRenderer(store *Store) *Renderer {
	return &Renderer{store: store}
}

// Store exposes the underlying template store.
func (r *Renderer) Store() *Store { return r.store }

// Render evaluates the named template against data. Absent data fields render empty;
// only a missing bundle or a broken template fails.
func (r *Renderer) Render(templateName string, data map[string]any) (string, error) {
	bundle, err := r.store.Load(templateName)
	if err != nil {
		return "", err
	}

	tpl, err := template.New(MarkupFile).
		Option("missingkey=zero").
		Funcs(sprig.FuncMap()).
		Parse(bundle.Markup)
	if err != nil {
		return "", errcode.Wrap(errcode.InternalRender, fmt.Errorf("parse template %q: %w", bundle.Name, err))
	}

	var body bytes.Buffer
	if err := tpl.Execute(&body, map[string]any{
		"data":     resume.Normalize(data),
		"template": bundle.Metadata,
	}); err != nil {
		return "", errcode.Wrap(errcode.InternalRender, fmt.Errorf("execute template %q: %w", bundle.Name, err))
	}

	links, css := ExtractImports(bundle.Stylesheet)
	return assemble(links, css, body.String()), nil
}

// ExtractImports pulls @import targets out of css and returns them with the remaining stylesheet.
func ExtractImports(css string) ([]string, string) {
	var links []string
	stripped := cssImportPattern.ReplaceAllStringFunc(css, func(match string) string {
		groups := cssImportPattern.FindStringSubmatch(match)
		href := groups[1]
		if href == "" {
			href = groups[2]
		}
		if href != "" {
			links = append(links, href)
		}
		return ""
	})
	return links, strings.TrimSpace(stripped)
}

func assemble(links []string, css, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"fr\">\n<head>\n")
	b.WriteString("  <meta charset=\"UTF-8\" />\n")
	b.WriteString("  <title>CV Preview</title>\n")
	for _, href := range links {
		fmt.Fprintf(&b, "  <link rel=\"stylesheet\" href=\"%s\" />\n", html.EscapeString(href))
	}
	b.WriteString("  <style>")
	b.WriteString(css)
	b.WriteString("</style>\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>")
	return b.String()
}
