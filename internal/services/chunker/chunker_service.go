package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service splits a parsed document into retrieval units. Splitting follows
// document structure first: header-bounded sections, then paragraphs, then
// sentences. Units below the minimum token threshold are merged into a
// neighbor, units above the maximum are re-split at sentence boundaries
// with trailing-context overlap. Tables are atomic regardless of size.
type Service struct {
	minTokens     int
	maxTokens     int
	overlapTokens int
	logger        arbor.ILogger
}

var _ interfaces.Chunker = (*Service)(nil)

func NewService(config *common.ChunkerConfig, logger arbor.ILogger) *Service {
	return &Service{
		minTokens:     config.MinTokens,
		maxTokens:     config.MaxTokens,
		overlapTokens: config.OverlapTokens,
		logger:        logger,
	}
}

// unit is an intermediate chunk draft before merge/split passes.
type unit struct {
	text    string
	page    int
	path    []string
	isTable bool
}

// Chunk converts a parsed document into ordered chunks for the given source.
func (s *Service) Chunk(doc *models.ParsedDocument, src *models.Source) ([]*models.Chunk, error) {
	if doc == nil || len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("%w: document has no blocks", models.ErrParseFailed)
	}

	sections := s.collectSections(doc)

	var units []unit
	for _, section := range sections {
		merged := s.mergeSmall(section)
		for _, u := range merged {
			units = append(units, s.splitLarge(u)...)
		}
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", models.ErrParseFailed)
	}

	chunks := make([]*models.Chunk, 0, len(units))
	for _, u := range units {
		body := strings.TrimSpace(u.text)
		if body == "" {
			continue
		}
		text := body
		if len(u.path) > 0 {
			text = strings.Join(u.path, " > ") + "\n\n" + body
		}
		ordinal := len(chunks)
		chunks = append(chunks, &models.Chunk{
			ID:          common.NewChunkID(src.ID, ordinal),
			SourceID:    src.ID,
			Ordinal:     ordinal,
			Text:        text,
			Body:        body,
			Page:        u.page,
			SectionPath: u.path,
			IsTable:     u.isTable,
			TokenCount:  estimateTokens(body),
			Precedence:  src.Precedence,
			Official:    src.Official,
		})
	}

	s.logger.Debug().
		Str("source_id", src.ID).
		Int("blocks", len(doc.Blocks)).
		Int("chunks", len(chunks)).
		Msg("Document chunked")

	return chunks, nil
}

// collectSections walks blocks in reading order, maintaining the header
// path stack, and groups paragraph/table units by their enclosing section.
func (s *Service) collectSections(doc *models.ParsedDocument) [][]unit {
	var sections [][]unit
	var current []unit
	var path []string
	var levels []int

	flush := func() {
		if len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
	}

	for _, blk := range doc.Blocks {
		switch blk.Kind {
		case models.BlockHeading:
			flush()
			// Pop headers at or below this level, then push.
			for len(levels) > 0 && levels[len(levels)-1] >= blk.Level {
				levels = levels[:len(levels)-1]
				path = path[:len(path)-1]
			}
			levels = append(levels, blk.Level)
			path = append(path, blk.Text)

		case models.BlockParagraph:
			current = append(current, unit{
				text: blk.Text,
				page: blk.Page,
				path: clonePath(path),
			})

		case models.BlockTable:
			current = append(current, unit{
				text:    blk.Text,
				page:    blk.Page,
				path:    clonePath(path),
				isTable: true,
			})
		}
	}
	flush()

	return sections
}

// mergeSmall folds units below the minimum token threshold into a neighbor,
// preferring the following unit. Tables never participate in merges on
// either side.
func (s *Service) mergeSmall(section []unit) []unit {
	if len(section) <= 1 {
		return section
	}

	units := make([]unit, len(section))
	copy(units, section)

	for i := 0; i < len(units); i++ {
		u := units[i]
		if u.isTable || estimateTokens(u.text) >= s.minTokens {
			continue
		}

		if i+1 < len(units) && !units[i+1].isTable {
			units[i+1].text = u.text + "\n\n" + units[i+1].text
			units[i+1].page = u.page
			units = append(units[:i], units[i+1:]...)
			i--
			continue
		}

		if i > 0 && !units[i-1].isTable {
			units[i-1].text = units[i-1].text + "\n\n" + u.text
			units = append(units[:i], units[i+1:]...)
			i--
		}
		// A lone small unit boxed in by tables stays as-is.
	}

	return units
}

// splitLarge re-splits a unit above the maximum token threshold at sentence
// boundaries, carrying trailing sentences worth roughly overlapTokens into
// each following piece. Tables and single oversized sentences stay whole.
func (s *Service) splitLarge(u unit) []unit {
	if u.isTable || estimateTokens(u.text) <= s.maxTokens {
		return []unit{u}
	}

	sentences := splitSentences(u.text)
	if len(sentences) <= 1 {
		return []unit{u}
	}

	var out []unit
	var piece []string
	pieceTokens := 0

	emit := func() {
		if len(piece) == 0 {
			return
		}
		out = append(out, unit{
			text:    strings.Join(piece, " "),
			page:    u.page,
			path:    u.path,
			isTable: false,
		})

		// Seed the next piece with trailing context from the split point.
		var overlap []string
		overlapTokens := 0
		for i := len(piece) - 1; i >= 0 && overlapTokens < s.overlapTokens; i-- {
			overlap = append([]string{piece[i]}, overlap...)
			overlapTokens += estimateTokens(piece[i])
		}
		piece = overlap
		pieceTokens = overlapTokens
	}

	for _, sentence := range sentences {
		st := estimateTokens(sentence)
		if pieceTokens+st > s.maxTokens && pieceTokens > 0 {
			emit()
		}
		piece = append(piece, sentence)
		pieceTokens += st
	}
	if len(piece) > 0 {
		out = append(out, unit{
			text: strings.Join(piece, " "),
			page: u.page,
			path: u.path,
		})
	}

	return out
}

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)

// splitSentences breaks text on terminal punctuation, returning the raw
// text as a single sentence when no boundary exists.
func splitSentences(text string) []string {
	matches := sentenceRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	consumed := 0
	var sentences []string
	for _, m := range matches {
		consumed += len(m)
		if t := strings.TrimSpace(m); t != "" {
			sentences = append(sentences, t)
		}
	}
	// Keep any trailing fragment without terminal punctuation.
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}

// estimateTokens approximates LLM token count from character length.
// Rulebook prose averages roughly four characters per token.
func estimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}
