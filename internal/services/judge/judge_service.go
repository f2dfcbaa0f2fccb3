package judge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
	"github.com/ternarybob/regula/internal/services/conflicts"
	"github.com/ternarybob/regula/internal/services/query"
	"github.com/ternarybob/regula/internal/services/rerank"
	"github.com/ternarybob/regula/internal/services/verdict"
)

// Service runs a question through the full read path: expand, retrieve,
// rerank, resolve hierarchy, detect conflicts, synthesize. A question either
// completes the whole pipeline or fails; there are no partial verdicts.
type Service struct {
	sources     interfaces.SourceStorage
	expander    *query.Expander
	retriever   interfaces.Retriever
	reranker    *rerank.Service
	detector    *conflicts.Detector
	synthesizer *verdict.Synthesizer
	config      *common.RetrievalConfig
	logger      arbor.ILogger
}

var _ interfaces.JudgeService = (*Service)(nil)

func NewService(
	sources interfaces.SourceStorage,
	expander *query.Expander,
	retriever interfaces.Retriever,
	reranker *rerank.Service,
	detector *conflicts.Detector,
	synthesizer *verdict.Synthesizer,
	config *common.RetrievalConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		sources:     sources,
		expander:    expander,
		retriever:   retriever,
		reranker:    reranker,
		detector:    detector,
		synthesizer: synthesizer,
		config:      config,
		logger:      logger,
	}
}

// Judge answers a question against its scoped sources.
func (s *Service) Judge(ctx context.Context, q *models.Question) (*models.Verdict, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("question text is empty")
	}

	scope, sources, err := s.resolveScope(q.Scope)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	expanded := s.expander.Expand(q)

	candidates, err := s.retrieve(ctx, expanded.Queries(), scope)
	if err != nil {
		return nil, err
	}

	window, err := s.reranker.Rerank(ctx, expanded.Primary, candidates)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detected, err := s.detector.Detect(ctx, window)
	if err != nil {
		return nil, err
	}

	result, err := s.synthesizer.Synthesize(ctx, q, window, detected, sources)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("scope", len(scope)).
		Int("candidates", len(candidates)).
		Int("context", len(window)).
		Int("conflicts", len(detected)).
		Float64("confidence", result.Confidence).
		Bool("insufficient", result.InsufficientContext).
		Dur("elapsed", time.Since(started)).
		Msg("Question judged")

	return result, nil
}

// resolveScope narrows the requested scope to sources that are actually
// queryable. Unknown IDs and non-indexed sources are dropped with a warning;
// an empty result is a hard error, never an open-scope search.
func (s *Service) resolveScope(requested []string) ([]string, map[string]*models.Source, error) {
	if len(requested) == 0 {
		return nil, nil, models.ErrScopeEmpty
	}

	scope := make([]string, 0, len(requested))
	sources := make(map[string]*models.Source, len(requested))
	for _, id := range requested {
		src, err := s.sources.GetSource(id)
		if err != nil {
			if errors.Is(err, models.ErrSourceNotFound) {
				s.logger.Warn().Str("source_id", id).Msg("Scoped source does not exist, skipping")
				continue
			}
			return nil, nil, err
		}
		if !src.Indexed() {
			s.logger.Warn().
				Str("source_id", id).
				Str("status", string(src.Status)).
				Msg("Scoped source is not indexed, skipping")
			continue
		}
		scope = append(scope, id)
		sources[id] = src
	}

	if len(scope) == 0 {
		return nil, nil, fmt.Errorf("%w: none of the %d scoped sources are indexed", models.ErrScopeEmpty, len(requested))
	}
	return scope, sources, nil
}

// retrieve runs every expanded query and merges the candidate sets. A chunk
// surfaced by several queries keeps its best fused score.
func (s *Service) retrieve(ctx context.Context, queries []string, scope []string) ([]*models.Evidence, error) {
	merged := make(map[string]*models.Evidence)
	for _, q := range queries {
		results, err := s.retriever.Retrieve(ctx, q, scope, s.config.CandidateSize)
		if err != nil {
			return nil, err
		}
		for _, ev := range results {
			existing, ok := merged[ev.Chunk.ID]
			if !ok || ev.FusedScore > existing.FusedScore {
				merged[ev.Chunk.ID] = ev
			}
		}
	}

	candidates := make([]*models.Evidence, 0, len(merged))
	for _, ev := range merged {
		candidates = append(candidates, ev)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		if candidates[i].Chunk.Precedence != candidates[j].Chunk.Precedence {
			return candidates[i].Chunk.Precedence > candidates[j].Chunk.Precedence
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})
	if len(candidates) > s.config.CandidateSize {
		candidates = candidates[:s.config.CandidateSize]
	}
	return candidates, nil
}
