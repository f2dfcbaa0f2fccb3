package parser

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/regula/internal/models"
)

// parseHTML strips page chrome with goquery, converts the remaining body
// to markdown, and reuses the markdown block walker. Converting through
// markdown keeps a single structural path for headings and tables.
func (s *Service) parseHTML(data []byte) (*models.ParsedDocument, error) {
	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: html parse: %v", models.ErrParseFailed, err)
	}

	gq.Find("script, style, nav, header, footer, aside, noscript, iframe").Remove()

	body := gq.Find("body")
	if body.Length() == 0 {
		body = gq.Selection
	}

	html, err := body.Html()
	if err != nil {
		return nil, fmt.Errorf("%w: html serialize: %v", models.ErrParseFailed, err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("%w: html to markdown: %v", models.ErrParseFailed, err)
	}

	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("%w: html document has no text content", models.ErrParseFailed)
	}

	return s.parseMarkdown([]byte(markdown))
}
