// Package parser extracts raw policy text from source files. The text it
// returns is fed line by line to the clause parser, so every format is
// flattened to lines in reading order.
package parser

import (
	"context"
	"strings"
)

// Page is one page (or sheet) of extracted text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is the text extracted from a file.
type Document struct {
	Pages    []Page            `json:"pages"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Text joins the pages with a blank line between them.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Parser extracts text from a specific file format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}
