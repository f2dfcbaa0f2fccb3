package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service implements the hybrid retriever: dense and lexical channels are
// queried per scoped source, fused with reciprocal rank fusion, and
// optionally extended by one targeted multi-hop pass when top results
// reference another section by name. Scope is a hard boundary; sources
// outside it are never touched.
type Service struct {
	index    interfaces.VectorIndex
	chunks   interfaces.ChunkStorage
	embedder interfaces.EmbeddingService
	config   *common.RetrievalConfig
	logger   arbor.ILogger
}

var _ interfaces.Retriever = (*Service)(nil)

func NewService(
	index interfaces.VectorIndex,
	chunks interfaces.ChunkStorage,
	embedder interfaces.EmbeddingService,
	config *common.RetrievalConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		index:    index,
		chunks:   chunks,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}
}

// sourceChannels holds one source's ranked lists for both channels.
type sourceChannels struct {
	dense   []channelHit
	lexical []channelHit
	err     error
}

// Retrieve runs both channels across the scope and returns the fused
// candidate set, at most topK entries.
func (s *Service) Retrieve(ctx context.Context, query string, scope []string, topK int) ([]*models.Evidence, error) {
	if len(scope) == 0 {
		return nil, models.ErrScopeEmpty
	}
	if topK <= 0 {
		topK = s.config.CandidateSize
	}

	started := time.Now()

	fused := newFusedSet(s.config.RRFK, s.config.OfficialBoost)
	if err := s.retrieveInto(ctx, fused, query, scope); err != nil {
		return nil, err
	}

	if s.config.MultiHop {
		s.followReferences(ctx, fused, scope)
	}

	evidence := fused.ranked(topK)

	s.logger.Debug().
		Str("query", query).
		Int("scope", len(scope)).
		Int("candidates", len(evidence)).
		Dur("elapsed", time.Since(started)).
		Msg("Hybrid retrieval complete")

	return evidence, nil
}

// retrieveInto fans out over the scoped sources, querying the dense and
// lexical channels concurrently, and folds every ranked list into fused.
func (s *Service) retrieveInto(ctx context.Context, fused *fusedSet, query string, scope []string) error {
	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("query embedding failed: %w", err)
	}

	results := make([]sourceChannels, len(scope))
	var wg sync.WaitGroup

	for i, sourceID := range scope {
		wg.Add(1)
		go func(slot int, srcID string) {
			defer wg.Done()
			results[slot] = s.querySource(ctx, srcID, query, queryVector)
		}(i, sourceID)
	}
	wg.Wait()

	for i, res := range results {
		if res.err != nil {
			return fmt.Errorf("retrieval for source %s failed: %w", scope[i], res.err)
		}
		fused.add(channelDense, res.dense)
		fused.add(channelLexical, res.lexical)
	}

	return nil
}

// querySource runs both channels for one source. Chunks are loaded once and
// serve the lexical index and the dense hit lookup.
func (s *Service) querySource(ctx context.Context, sourceID, query string, queryVector []float32) sourceChannels {
	chunks, err := s.chunks.ListChunksBySource(sourceID)
	if err != nil {
		return sourceChannels{err: err}
	}
	if len(chunks) == 0 {
		return sourceChannels{}
	}

	byID := make(map[string]*models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	var out sourceChannels

	matches, err := s.index.Query(ctx, queryVector, []string{sourceID}, s.config.ChannelTopK)
	if err != nil {
		return sourceChannels{err: err}
	}
	for _, m := range matches {
		if chunk, ok := byID[m.ChunkID]; ok {
			out.dense = append(out.dense, channelHit{chunk: chunk, score: m.Similarity})
		}
	}

	out.lexical = newLexicalIndex(chunks).search(query, s.config.ChannelTopK)

	return out
}
