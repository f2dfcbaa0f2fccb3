package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/regula/internal/models"
)

// BM25 constants. k1 controls term-frequency saturation, b controls length
// normalization; both are the standard Okapi defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits on non-alphanumerics. Game terminology is
// kept verbatim; no stemming, since exact terms like "errata" or "d20" are
// precisely what the lexical channel exists to catch.
func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// channelHit is one scored result from a retrieval channel before fusion.
type channelHit struct {
	chunk *models.Chunk
	score float64
}

// lexicalIndex is an in-memory BM25 index over one source's chunks, built
// per query. Sources hold at most a few thousand chunks, so construction
// stays cheap relative to the embedding call the dense channel needs.
type lexicalIndex struct {
	chunks    []*models.Chunk
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

func newLexicalIndex(chunks []*models.Chunk) *lexicalIndex {
	ix := &lexicalIndex{
		chunks:    chunks,
		termFreqs: make([]map[string]int, len(chunks)),
		docLens:   make([]int, len(chunks)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for i, chunk := range chunks {
		tokens := tokenize(chunk.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		ix.termFreqs[i] = tf
		ix.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for tok := range tf {
			ix.docFreq[tok]++
		}
	}
	if len(chunks) > 0 {
		ix.avgDocLen = float64(totalLen) / float64(len(chunks))
	}

	return ix
}

// search returns the topK chunks by BM25 score. Chunks with no matching
// terms are omitted.
func (ix *lexicalIndex) search(query string, topK int) []channelHit {
	if len(ix.chunks) == 0 || topK <= 0 {
		return nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	n := float64(len(ix.chunks))
	var hits []channelHit

	for i, chunk := range ix.chunks {
		var score float64
		for _, tok := range queryTokens {
			tf := float64(ix.termFreqs[i][tok])
			if tf == 0 {
				continue
			}
			df := float64(ix.docFreq[tok])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*float64(ix.docLens[i])/ix.avgDocLen
			score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*norm)
		}
		if score > 0 {
			hits = append(hits, channelHit{chunk: chunk, score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].chunk.ID < hits[b].chunk.ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
