package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cvtor/internal/export"
	"cvtor/internal/generator"
)

func documentBody(template string) map[string]any {
	return map[string]any{
		"template_name": template,
		"out":           "../../etc/passwd",
		"data": map[string]any{
			"profile": map[string]any{"name": "Ada Lovelace", "title": "Analyst"},
			"summary": "First programmer",
		},
	}
}

func TestListAndDescribeTemplates(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/templates", nil)
	expectStatus(t, rec, http.StatusOK)
	names := decode[map[string][]string](t, rec)["templates"]
	if strings.Join(names, ",") != "classique,moderne,professional,tokyo" {
		t.Fatalf("unexpected templates %v", names)
	}

	meta := srv.do(http.MethodGet, "/templates/classique", nil)
	expectStatus(t, meta, http.StatusOK)
	if decode[map[string]any](t, meta)["layout"] != "single" {
		t.Fatalf("unexpected metadata %s", meta.Body.String())
	}

	missing := srv.do(http.MethodGet, "/templates/nope", nil)
	expectStatus(t, missing, http.StatusNotFound)
	if msg := errorMessage(t, missing); msg != "Template 'nope' not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestPreviewHTML(t *testing.T) {
	srv := newTestServer(t)

	for _, name := range []string{"classique", "MODERNE", "professional", "tokyo"} {
		rec := srv.do(http.MethodPost, "/preview/html", documentBody(name))
		expectStatus(t, rec, http.StatusOK)
		html := decode[map[string]string](t, rec)["html"]
		if !strings.HasPrefix(html, "<!DOCTYPE html>") || !strings.Contains(html, "</html>") {
			t.Fatalf("%s: incomplete document", name)
		}
		if !strings.Contains(html, "Ada Lovelace") {
			t.Fatalf("%s: data not rendered", name)
		}
	}

	sparse := srv.do(http.MethodPost, "/preview/html", map[string]any{"template_name": "classique", "data": map[string]any{}})
	expectStatus(t, sparse, http.StatusOK)

	expectStatus(t, srv.do(http.MethodPost, "/preview/html", documentBody("unknown")), http.StatusNotFound)
	expectStatus(t, srv.do(http.MethodPost, "/preview/html", map[string]any{"data": map[string]any{}}), http.StatusBadRequest)
}

func TestExportWritesDistinctFiles(t *testing.T) {
	srv := newTestServer(t)

	for _, format := range []string{export.FormatPDF, export.FormatDOCX} {
		first := decode[export.Result](t, srv.do(http.MethodPost, "/export/"+format, documentBody("classique")))
		second := decode[export.Result](t, srv.do(http.MethodPost, "/export/"+format, documentBody("classique")))

		if first.File == second.File || first.URL == second.URL {
			t.Fatalf("%s: identical output paths %s", format, first.File)
		}
		for _, res := range []export.Result{first, second} {
			base := filepath.Base(res.File)
			if !strings.HasPrefix(base, "CV_") || !strings.HasSuffix(base, "."+format) {
				t.Fatalf("%s: unexpected name %s", format, base)
			}
			if filepath.Dir(res.File) != srv.exportDir {
				t.Fatalf("%s: file escaped export dir: %s", format, res.File)
			}
			if res.URL != "/static/"+base {
				t.Fatalf("%s: unexpected url %s", format, res.URL)
			}
		}

		served := srv.do(http.MethodGet, first.URL, nil)
		expectStatus(t, served, http.StatusOK)
	}

	entries, err := os.ReadDir(srv.exportDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 exported files, got %d", len(entries))
	}
}

func TestExportPDFUnknownTemplate(t *testing.T) {
	srv := newTestServer(t)
	expectStatus(t, srv.do(http.MethodPost, "/export/pdf", documentBody("ghost")), http.StatusNotFound)
}

func TestGenerateWithoutProviderReturnsStub(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/generate", map[string]any{
		"role": "Data Engineer",
		"data": map[string]any{"summary": "Keeps pipelines green"},
	})
	expectStatus(t, rec, http.StatusOK)

	result := decode[generator.Result](t, rec)
	if result.Source != generator.SourceStub {
		t.Fatalf("source = %q", result.Source)
	}
	for _, key := range []string{"profile", "summary", "experience", "education", "skills"} {
		if _, ok := result.Data[key]; !ok {
			t.Fatalf("missing %s in %v", key, result.Data)
		}
	}
	if result.Data["summary"] != "Keeps pipelines green" {
		t.Fatalf("supplied field overwritten: %v", result.Data["summary"])
	}

	empty := srv.do(http.MethodPost, "/generate", nil)
	expectStatus(t, empty, http.StatusOK)
}
