// Package parser dispatches classified files to format-specific text
// extraction engines. The engines are thin adapters over external
// converters (pdftotext, antiword, LibreOffice) or in-process archive
// readers for the XML-based formats.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/talenthive/cvflow/pkg/router"
)

// Document is the result of text extraction.
type Document struct {
	Text      string
	PageCount int
	Encrypted bool
	Method    string
	Warnings  []string
}

// Engine extracts plain text from one document format.
type Engine interface {
	// Name identifies the extraction method for logging and responses.
	Name() string
	// Parse extracts text from the raw bytes, honoring ctx deadlines.
	Parse(ctx context.Context, data []byte) (*Document, error)
}

// Dispatcher routes files to the registered engine for their type.
type Dispatcher struct {
	engines map[router.FileType]Engine
}

// NewDispatcher registers the default engines for every supported type.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		engines: map[router.FileType]Engine{
			router.TypePDF:  &pdfEngine{},
			router.TypeDOCX: &docxEngine{},
			router.TypeHWPX: &hwpxEngine{},
			router.TypeDOC:  &docEngine{},
			router.TypeHWP:  &hwpEngine{},
		},
	}
}

// Register replaces the engine for a type (used by tests and deployments
// with external converter services).
func (d *Dispatcher) Register(t router.FileType, e Engine) {
	d.engines[t] = e
}

// Parse extracts text for the given file type and normalizes it.
func (d *Dispatcher) Parse(ctx context.Context, t router.FileType, data []byte) (*Document, error) {
	engine, ok := d.engines[t]
	if !ok {
		return nil, fmt.Errorf("no parser engine for file type %s", t)
	}
	doc, err := engine.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s parse: %w", engine.Name(), err)
	}
	doc.Method = engine.Name()
	doc.Text = CleanText(doc.Text)
	slog.Debug("Parsed document",
		"method", doc.Method, "text_length", len(doc.Text), "pages", doc.PageCount)
	return doc, nil
}

var (
	controlChars   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
	excessBlanks   = regexp.MustCompile(`\n{3,}`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// CleanText normalizes line endings, strips control characters, and
// collapses runs of blank lines.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = excessBlanks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
