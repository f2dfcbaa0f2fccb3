package parser

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/regula/internal/models"
)

// parseMarkdown walks the goldmark AST and emits heading, paragraph and
// table blocks in document order. Markdown has no pagination, so every
// block reports page 1.
func (s *Service) parseMarkdown(source []byte) (*models.ParsedDocument, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	)

	root := md.Parser().Parse(text.NewReader(source))

	doc := &models.ParsedDocument{Pages: 1}

	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n.Kind() {
		case ast.KindHeading:
			heading := n.(*ast.Heading)
			txt := collapseWhitespace(nodeText(n, source))
			if txt != "" {
				doc.Blocks = append(doc.Blocks, models.Block{
					Kind:  models.BlockHeading,
					Level: heading.Level,
					Text:  txt,
					Page:  1,
				})
			}
			return ast.WalkSkipChildren, nil

		case ast.KindParagraph:
			// Paragraphs nested inside list items are collected by the
			// list case below.
			if insideListItem(n) {
				return ast.WalkContinue, nil
			}
			txt := collapseWhitespace(nodeText(n, source))
			if txt != "" {
				doc.Blocks = append(doc.Blocks, models.Block{
					Kind: models.BlockParagraph,
					Text: txt,
					Page: 1,
				})
			}
			return ast.WalkSkipChildren, nil

		case ast.KindList:
			txt := listText(n.(*ast.List), source)
			if txt != "" {
				doc.Blocks = append(doc.Blocks, models.Block{
					Kind: models.BlockParagraph,
					Text: txt,
					Page: 1,
				})
			}
			return ast.WalkSkipChildren, nil

		case extast.KindTable:
			rows := tableRows(n.(*extast.Table), source)
			if len(rows) > 0 {
				doc.Blocks = append(doc.Blocks, models.Block{
					Kind: models.BlockTable,
					Text: serializeTable(rows),
					Page: 1,
					Rows: rows,
				})
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: markdown walk: %v", models.ErrParseFailed, err)
	}

	return doc, nil
}

// nodeText concatenates the text segments beneath a node.
func nodeText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func insideListItem(n ast.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindListItem {
			return true
		}
	}
	return false
}

// listText flattens a list into one paragraph-style block, one item per
// line, so short rule lists stay together as a retrieval unit.
func listText(list *ast.List, source []byte) string {
	var lines []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		txt := collapseWhitespace(nodeText(item, source))
		if txt != "" {
			lines = append(lines, "- "+txt)
		}
	}
	return strings.Join(lines, "\n")
}

func tableRows(table *extast.Table, source []byte) [][]string {
	var rows [][]string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		switch row.Kind() {
		case extast.KindTableHeader, extast.KindTableRow:
		default:
			continue
		}
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, collapseWhitespace(nodeText(cell, source)))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}

// serializeTable renders table rows in a pipe-delimited form that keeps
// row/column association intact for embedding and lexical indexing.
func serializeTable(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |")
	}
	return b.String()
}
