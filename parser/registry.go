package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for files no parser handles.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &DOCXParser{}, &XLSXParser{}, &TextParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Formats lists the registered formats.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}

// FormatOf returns the lower-case extension of path without the dot.
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Extract parses path with the parser registered for its extension.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	p, err := r.Get(FormatOf(path))
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}
	doc.Metadata["filename"] = filepath.Base(path)
	return doc, nil
}

var defaultRegistry = NewRegistry()

// Extract parses path with the built-in parsers.
func Extract(ctx context.Context, path string) (*Document, error) {
	return defaultRegistry.Extract(ctx, path)
}
