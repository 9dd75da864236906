// Package localpdf is the development/testing ocr.Provider: it extracts
// plain text from a PDF on disk with no external vendor call, so the
// ingestion pipeline is runnable end-to-end without live credentials.
package localpdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/relaydocs/ingestor/internal/ocr"
)

func init() {
	ocr.Register("localpdf", New(nil))
}

// Provider extracts text from PDF files via ledongthuc/pdf, then splits it
// into loose key:value fields using the same "label followed by value"
// regex approach the corpus's PDF rate-sheet parsers use.
type Provider struct {
	fieldPattern *regexp.Regexp
}

// New constructs a localpdf Provider. fieldPattern, if non-nil, overrides
// the default "Label: value" line matcher used to populate Entities.Fields.
func New(fieldPattern *regexp.Regexp) *Provider {
	if fieldPattern == nil {
		fieldPattern = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z0-9 /_-]{1,40}):\s*(.+)$`)
	}
	return &Provider{fieldPattern: fieldPattern}
}

// Extract writes content to a temp file (ledongthuc/pdf reads from a path),
// extracts its plain text, and derives loose fields from it.
func (p *Provider) Extract(ctx context.Context, filename string, content []byte) (ocr.Entities, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Entities{}, err
	}

	tmp, err := os.CreateTemp("", "localpdf-*.pdf")
	if err != nil {
		return ocr.Entities{}, fmt.Errorf("localpdf: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(content); err != nil {
		return ocr.Entities{}, fmt.Errorf("localpdf: write temp file: %w", err)
	}

	f, r, err := pdf.Open(tmp.Name())
	if err != nil {
		return ocr.Entities{}, &ocr.RetryableError{Err: fmt.Errorf("localpdf: open pdf %s: %w", filename, err)}
	}
	defer f.Close()

	rc, err := r.GetPlainText()
	if err != nil {
		return ocr.Entities{}, fmt.Errorf("localpdf: extract text from %s: %w", filename, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return ocr.Entities{}, fmt.Errorf("localpdf: read extracted text from %s: %w", filename, err)
	}

	text := buf.String()
	return ocr.Entities{Fields: p.parseFields(text), Raw: text}, nil
}

func (p *Provider) parseFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, m := range p.fieldPattern.FindAllStringSubmatch(text, -1) {
		key := strings.TrimSpace(m[1])
		val := strings.TrimSpace(m[2])
		if key == "" || val == "" {
			continue
		}
		fields[key] = val
	}
	return fields
}
