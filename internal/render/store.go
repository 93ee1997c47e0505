package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cvtor/internal/errcode"
)

// Bundle file names inside a template directory.
const (
	MarkupFile     = "template.html"
	StylesheetFile = "style.css"
	MetadataFile   = "template.json"
)

// ErrTemplateNotFound is returned when a named bundle does not exist.
var ErrTemplateNotFound = errcode.New(errcode.NotFound, "template not found")

// Bundle is one template directory loaded from disk.
type Bundle struct {
	Name       string
	Markup     string
	Stylesheet string
	Metadata   map[string]any
}

// Store reads template bundles from a root directory. Names are matched case-insensitively
// by lowercasing them, so bundle directories are expected to be lowercase.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the bundle directory.
func (s *Store) Root() string { return s.root }

// List returns the names of every directory holding a metadata descriptor, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), MetadataFile)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether a bundle directory exists for name.
func (s *Store) Has(name string) bool {
	dir, err := s.dir(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Metadata returns the parsed template.json of a bundle.
func (s *Store) Metadata(name string) (map[string]any, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}
	meta, err := readMetadata(filepath.Join(dir, MetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
	}
	return meta, err
}

// Load reads the markup, stylesheet and metadata of a bundle.
// Only the markup is mandatory; a missing stylesheet or descriptor yields empty values.
func (s *Store) Load(name string) (*Bundle, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}

	markup, err := os.ReadFile(filepath.Join(dir, MarkupFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
		}
		return nil, fmt.Errorf("read markup: %w", err)
	}

	css, err := os.ReadFile(filepath.Join(dir, StylesheetFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read stylesheet: %w", err)
	}

	meta, err := readMetadata(filepath.Join(dir, MetadataFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		meta = map[string]any{"templateName": filepath.Base(dir)}
	case err != nil:
		return nil, err
	}

	return &Bundle{
		Name:       filepath.Base(dir),
		Markup:     string(markup),
		Stylesheet: string(css),
		Metadata:   meta,
	}, nil
}

func (s *Store) dir(name string) (string, error) {
	folder := strings.ToLower(strings.TrimSpace(name))
	if folder == "" || folder == "." || folder == ".." || strings.ContainsAny(folder, `/\`) {
		return "", fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
	}
	return filepath.Join(s.root, folder), nil
}

func readMetadata(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errcode.Wrap(errcode.InternalRender, fmt.Errorf("parse %s: %w", filepath.Base(path), err))
	}
	return meta, nil
}
