// Package extractor pulls plain text out of an uploaded document, keyed by
// page, so the chunker can keep citations anchored to a page number. PDF is
// the only format legal institutions publish in practice; everything else
// is treated as a single page of plain text.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/chunker"
)

// Extract returns one chunker.Page per page of text found in data.
// filename's extension selects the parser.
func Extract(filename string, data []byte) ([]chunker.Page, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return extractPDF(data)
	default:
		text := string(data)
		if strings.TrimSpace(text) == "" {
			return nil, apperr.Wrap("extractor.Extract", apperr.ErrExtractionFailed)
		}
		return []chunker.Page{{Number: 1, Text: text}}, nil
	}
}

func extractPDF(data []byte) ([]chunker.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("extractor: open pdf: %w: %w", err, apperr.ErrExtractionFailed)
	}

	pages := make([]chunker.Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, chunker.Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, apperr.Wrap("extractor.Extract", apperr.ErrEmptyDocument)
	}
	return pages, nil
}
