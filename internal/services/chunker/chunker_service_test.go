package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/models"
)

func newTestChunker() *Service {
	cfg := &common.ChunkerConfig{
		MinTokens:     300,
		MaxTokens:     500,
		OverlapTokens: 50,
	}
	return NewService(cfg, arbor.NewLogger())
}

func testSource() *models.Source {
	return &models.Source{
		ID:         "src_test",
		GameID:     "game_1",
		Tier:       models.TierBase,
		Precedence: models.TierBase.Precedence(),
		Official:   true,
	}
}

// sentencesOf builds prose of roughly the requested token count.
func sentencesOf(tokens int) string {
	sentence := "The active player rolls two six sided dice and adds the listed modifier to the total result."
	per := estimateTokens(sentence)
	var b strings.Builder
	for t := 0; t < tokens; t += per {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	return b.String()
}

func heading(level int, text string) models.Block {
	return models.Block{Kind: models.BlockHeading, Level: level, Text: text, Page: 1}
}

func paragraph(text string, page int) models.Block {
	return models.Block{Kind: models.BlockParagraph, Text: text, Page: page}
}

func TestChunkHeaderPathPrefix(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Combat"),
			heading(2, "Dice Roll"),
			heading(3, "Modifiers"),
			paragraph(sentencesOf(350), 4),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, []string{"Combat", "Dice Roll", "Modifiers"}, c.SectionPath)
	assert.True(t, strings.HasPrefix(c.Text, "Combat > Dice Roll > Modifiers\n\n"))
	assert.False(t, strings.Contains(c.Body, "Combat > Dice Roll"))
	assert.Equal(t, 4, c.Page)
}

func TestChunkHeaderStackPopsSiblings(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Combat"),
			heading(2, "Attacking"),
			paragraph(sentencesOf(350), 1),
			heading(2, "Defending"),
			paragraph(sentencesOf(350), 2),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, []string{"Combat", "Attacking"}, chunks[0].SectionPath)
	assert.Equal(t, []string{"Combat", "Defending"}, chunks[1].SectionPath)
}

func TestChunkSizeBand(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Movement"),
			paragraph(sentencesOf(1900), 1),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, svc.maxTokens+25,
			"chunk %d exceeds max band: %d tokens", c.Ordinal, c.TokenCount)
	}
}

func TestChunkSplitCarriesOverlap(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Movement"),
			paragraph(sentencesOf(1200), 1),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// The tail of each chunk reappears at the head of the next one.
	for i := 1; i < len(chunks); i++ {
		prev := splitSentences(chunks[i-1].Body)
		lastSentence := prev[len(prev)-1]
		assert.True(t, strings.HasPrefix(chunks[i].Body, lastSentence),
			"chunk %d does not start with the previous chunk's trailing context", i)
	}
}

func TestChunkMergePrefersFollowing(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Setup"),
			paragraph("Shuffle the deck.", 1),
			paragraph(sentencesOf(350), 1),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.True(t, strings.HasPrefix(chunks[0].Body, "Shuffle the deck."),
		"small fragment should be merged into the start of the following unit")
}

func TestChunkTrailingFragmentMergesBackward(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Setup"),
			paragraph(sentencesOf(350), 1),
			paragraph("Play proceeds clockwise.", 1),
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.True(t, strings.HasSuffix(chunks[0].Body, "Play proceeds clockwise."))
}

func TestChunkTableIsAtomic(t *testing.T) {
	svc := newTestChunker()

	// A table far larger than the max band must stay in one chunk.
	rows := make([][]string, 0, 120)
	rows = append(rows, []string{"Item", "Cost", "Weight"})
	var text strings.Builder
	for i := 0; i < 120; i++ {
		row := []string{
			fmt.Sprintf("Item number %d with a fairly long descriptive name", i),
			fmt.Sprintf("%d gold", i*3),
			fmt.Sprintf("%d lbs", i%20),
		}
		rows = append(rows, row)
		text.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Equipment"),
			{Kind: models.BlockTable, Text: text.String(), Page: 7, Rows: rows},
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.True(t, c.IsTable)
	assert.Greater(t, c.TokenCount, svc.maxTokens, "oversized table must not be split")
	assert.Equal(t, 7, c.Page)
}

func TestChunkSmallUnitNeverMergedIntoTable(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Loot"),
			{Kind: models.BlockTable, Text: "| A | 1 |\n| B | 2 |", Page: 1,
				Rows: [][]string{{"A", "1"}, {"B", "2"}}},
			paragraph("Rare items glow.", 1),
			{Kind: models.BlockTable, Text: "| C | 3 |\n| D | 4 |", Page: 1,
				Rows: [][]string{{"C", "3"}, {"D", "4"}}},
		},
	}

	chunks, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.True(t, chunks[0].IsTable)
	assert.Equal(t, "Rare items glow.", chunks[1].Body)
	assert.True(t, chunks[2].IsTable)
}

func TestChunkDeterministicIDs(t *testing.T) {
	svc := newTestChunker()
	doc := &models.ParsedDocument{
		Pages: 1,
		Blocks: []models.Block{
			heading(1, "Combat"),
			paragraph(sentencesOf(350), 1),
			paragraph(sentencesOf(350), 2),
		},
	}

	first, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)
	second, err := svc.Chunk(doc, testSource())
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
	assert.Equal(t, "src_test:chunk_0000", first[0].ID)
}

func TestChunkDenormalizesPrecedence(t *testing.T) {
	svc := newTestChunker()
	src := testSource()
	src.Tier = models.TierErrata
	src.Precedence = models.TierErrata.Precedence()

	doc := &models.ParsedDocument{
		Pages:  1,
		Blocks: []models.Block{paragraph(sentencesOf(350), 1)},
	}

	chunks, err := svc.Chunk(doc, src)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 100, chunks[0].Precedence)
	assert.True(t, chunks[0].Official)
}

func TestChunkEmptyDocument(t *testing.T) {
	svc := newTestChunker()

	_, err := svc.Chunk(&models.ParsedDocument{}, testSource())
	assert.ErrorIs(t, err, models.ErrParseFailed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("roll"))
	assert.Equal(t, 25, estimateTokens(strings.Repeat("a", 100)))
}

func TestSplitSentencesKeepsTrailingFragment(t *testing.T) {
	got := splitSentences("Roll the dice. Move your token! Then draw a card")
	require.Len(t, got, 3)
	assert.Equal(t, "Then draw a card", got[2])
}
