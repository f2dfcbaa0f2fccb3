package rerank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service narrows the fused candidate set with a batched cross-encoder
// scoring pass, then applies hierarchy resolution over the survivors and
// sizes the final context window.
type Service struct {
	provider interfaces.RerankProvider
	topK     int
	resolver *Resolver
	logger   arbor.ILogger
}

func NewService(provider interfaces.RerankProvider, retrievalConfig *common.RetrievalConfig, verdictConfig *common.VerdictConfig, logger arbor.ILogger) *Service {
	return &Service{
		provider: provider,
		topK:     retrievalConfig.RerankTopK,
		resolver: NewResolver(verdictConfig, logger),
		logger:   logger,
	}
}

// Rerank scores every candidate against the question in one batched call,
// keeps the topK by rerank score, then resolves precedence among near
// duplicates. The returned slice is the final synthesis context.
func (s *Service) Rerank(ctx context.Context, question string, candidates []*models.Evidence) ([]*models.Evidence, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	started := time.Now()

	passages := make([]string, len(candidates))
	for i, ev := range candidates {
		passages[i] = ev.Chunk.Text
	}

	scores, err := s.provider.Score(ctx, question, passages)
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	for i, ev := range candidates {
		ev.RerankScore = scores[i]
	}

	ranked := make([]*models.Evidence, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		if ranked[i].FusedScore != ranked[j].FusedScore {
			return ranked[i].FusedScore > ranked[j].FusedScore
		}
		return ranked[i].Chunk.ID < ranked[j].Chunk.ID
	})

	if len(ranked) > s.topK {
		ranked = ranked[:s.topK]
	}

	final := s.resolver.Resolve(ranked)

	s.logger.Debug().
		Int("candidates", len(candidates)).
		Int("context", len(final)).
		Dur("elapsed", time.Since(started)).
		Msg("Rerank and hierarchy resolution complete")

	return final, nil
}
