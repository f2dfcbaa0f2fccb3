package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ternarybob/regula/internal/models"
)

// parsePDF extracts per-page text with pdfcpu, then recovers heading and
// table structure from line-level heuristics. PDF carries no semantic
// markup, so structure detection is best effort; the linear fallback kicks
// in upstream when extraction itself fails.
func (s *Service) parsePDF(ctx context.Context, data []byte) (*models.ParsedDocument, error) {
	pageTexts, pageCount, err := s.extractPDFPages(ctx, data)
	if err != nil {
		return nil, err
	}

	doc := &models.ParsedDocument{Pages: pageCount}
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		blocks := structurePage(pageTexts[pageNum], pageNum)
		doc.Blocks = append(doc.Blocks, blocks...)
	}

	return doc, nil
}

// extractPDFPages writes the bytes to a temp file and runs pdfcpu content
// extraction, returning decoded text keyed by 1-based page number.
func (s *Service) extractPDFPages(ctx context.Context, data []byte) (map[int]string, int, error) {
	tempDir, err := os.MkdirTemp("", "regula-pdf-")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: temp dir: %v", models.ErrParseFailed, err)
	}
	defer os.RemoveAll(tempDir)

	tempFile := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return nil, 0, fmt.Errorf("%w: temp file: %v", models.ErrParseFailed, err)
	}

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read pdf: %v", models.ErrParseFailed, err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, 0, fmt.Errorf("%w: temp pages dir: %v", models.ErrParseFailed, err)
	}

	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return nil, 0, fmt.Errorf("%w: extract content: %v", models.ErrParseFailed, err)
	}

	pageTexts := make(map[int]string, pageCount)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = decodeContentText(string(content))
	}

	if len(pageTexts) == 0 {
		return nil, 0, fmt.Errorf("%w: no page content extracted", models.ErrParseFailed)
	}

	return pageTexts, pageCount, nil
}

var (
	tjStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*(?:Tj|'|")`)
	tjArrayRe  = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	parenRe    = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// decodeContentText pulls literal strings out of a PDF content stream.
// When the content does not look like an operator stream it is returned
// as-is, since some producers store plain text.
func decodeContentText(content string) string {
	if !strings.Contains(content, "Tj") && !strings.Contains(content, "TJ") {
		return content
	}

	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		wrote := false
		for _, m := range tjStringRe.FindAllStringSubmatch(line, -1) {
			b.WriteString(unescapePDFString(m[1]))
			wrote = true
		}
		for _, m := range tjArrayRe.FindAllStringSubmatch(line, -1) {
			for _, p := range parenRe.FindAllStringSubmatch(m[1], -1) {
				b.WriteString(unescapePDFString(p[1]))
			}
			wrote = true
		}
		if wrote {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func unescapePDFString(s string) string {
	replacer := strings.NewReplacer(
		`\(`, "(",
		`\)`, ")",
		`\\`, `\`,
		`\n`, "\n",
		`\t`, " ",
		`\r`, "",
	)
	return replacer.Replace(s)
}

var (
	numberedHeadingRe = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
	allCapsRe         = regexp.MustCompile(`^[A-Z][A-Z0-9 ,:'&-]{3,}$`)
	columnGapRe       = regexp.MustCompile(`\t+| {3,}`)
)

// structurePage turns raw page text into blocks. Headings are short lines
// that are numbered or fully capitalized; consecutive lines with aligned
// column gaps become a table; everything else accumulates into paragraphs.
func structurePage(text string, pageNum int) []models.Block {
	lines := strings.Split(text, "\n")
	var blocks []models.Block
	var para []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, models.Block{
			Kind: models.BlockParagraph,
			Text: collapseWhitespace(strings.Join(para, " ")),
			Page: pageNum,
		})
		para = nil
	}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flushPara()
			continue
		}

		if level, ok := detectHeading(trimmed); ok {
			flushPara()
			blocks = append(blocks, models.Block{
				Kind:  models.BlockHeading,
				Level: level,
				Text:  collapseWhitespace(trimmed),
				Page:  pageNum,
			})
			continue
		}

		if cells := splitColumns(line); cells != nil {
			// A table needs at least two consecutive multi-column lines.
			var rows [][]string
			rows = append(rows, cells)
			j := i + 1
			for ; j < len(lines); j++ {
				next := splitColumns(strings.TrimRight(lines[j], " \t"))
				if next == nil {
					break
				}
				rows = append(rows, next)
			}
			if len(rows) >= 2 {
				flushPara()
				blocks = append(blocks, models.Block{
					Kind: models.BlockTable,
					Text: serializeTable(rows),
					Page: pageNum,
					Rows: rows,
				})
				i = j - 1
				continue
			}
		}

		para = append(para, trimmed)
	}
	flushPara()

	return blocks
}

// detectHeading reports whether a line looks like a section heading and at
// what depth. Numbered headings derive depth from the numbering; capitalized
// headings are treated as top-level.
func detectHeading(line string) (int, bool) {
	if len(line) > 80 {
		return 0, false
	}
	if numberedHeadingRe.MatchString(line) {
		prefix := strings.Fields(line)[0]
		depth := strings.Count(strings.TrimSuffix(prefix, "."), ".") + 1
		if depth > 6 {
			depth = 6
		}
		return depth, true
	}
	if allCapsRe.MatchString(line) && len(strings.Fields(line)) <= 8 {
		return 1, true
	}
	return 0, false
}

// splitColumns splits a line on runs of 3+ spaces or tabs. Returns nil when
// the line has fewer than two columns.
func splitColumns(line string) []string {
	parts := columnGapRe.Split(strings.TrimSpace(line), -1)
	var cells []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cells = append(cells, p)
		}
	}
	if len(cells) < 2 {
		return nil
	}
	return cells
}

// extractPDFText is the degraded path: all page text concatenated with no
// structure recovery.
func (s *Service) extractPDFText(ctx context.Context, data []byte) (string, int, error) {
	pageTexts, pageCount, err := s.extractPDFPages(ctx, data)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if text := strings.TrimSpace(pageTexts[pageNum]); text != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(text)
		}
	}
	return b.String(), pageCount, nil
}
