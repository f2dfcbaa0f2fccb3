package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service implements DocumentParser. It dispatches on content type and falls
// back to a linear text extraction when the structured path fails; fallback
// output carries the LowFidelity flag since it cannot guarantee multi-column
// reading order.
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.DocumentParser = (*Service)(nil)

func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Parse extracts reading-order blocks from raw document bytes.
func (s *Service) Parse(ctx context.Context, data []byte, contentType string) (*models.ParsedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", models.ErrParseFailed)
	}

	normalized := normalizeContentType(contentType)

	var (
		doc *models.ParsedDocument
		err error
	)

	switch normalized {
	case "application/pdf":
		doc, err = s.parsePDF(ctx, data)
	case "text/markdown":
		doc, err = s.parseMarkdown(data)
	case "text/html":
		doc, err = s.parseHTML(data)
	case "text/plain":
		doc = s.parseLinear(string(data))
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", models.ErrParseFailed, contentType)
	}

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("content_type", normalized).
			Msg("Structured parse failed, using linear fallback")
		doc = s.linearFallback(ctx, data, normalized)
	}

	if doc == nil || len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("%w: no text extracted", models.ErrParseFailed)
	}

	s.logger.Debug().
		Str("content_type", normalized).
		Int("blocks", len(doc.Blocks)).
		Int("pages", doc.Pages).
		Bool("low_fidelity", doc.LowFidelity).
		Msg("Document parsed")

	return doc, nil
}

// linearFallback re-extracts plain text when the structured path fails.
// PDF bytes still need pdfcpu for raw text; everything else is treated as
// plain text directly.
func (s *Service) linearFallback(ctx context.Context, data []byte, contentType string) *models.ParsedDocument {
	if contentType == "application/pdf" {
		text, pages, err := s.extractPDFText(ctx, data)
		if err != nil {
			return nil
		}
		doc := s.parseLinear(text)
		if doc != nil {
			doc.Pages = pages
		}
		return doc
	}
	return s.parseLinear(string(data))
}

func normalizeContentType(contentType string) string {
	base := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	switch base {
	case "application/pdf", "application/x-pdf":
		return "application/pdf"
	case "text/markdown", "text/x-markdown", "application/markdown":
		return "text/markdown"
	case "text/html", "application/xhtml+xml":
		return "text/html"
	case "text/plain", "":
		return "text/plain"
	default:
		return base
	}
}

// parseLinear splits plain text into paragraph blocks on blank lines. The
// result is always low fidelity: there is no header or table structure to
// recover.
func (s *Service) parseLinear(text string) *models.ParsedDocument {
	doc := &models.ParsedDocument{
		Pages:       1,
		LowFidelity: true,
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, models.Block{
			Kind: models.BlockParagraph,
			Text: collapseWhitespace(para),
			Page: 1,
		})
	}

	return doc
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
