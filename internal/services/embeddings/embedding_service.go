package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service wraps an embedding provider with rate limiting and bounded retry.
// Provider calls are the main suspension point of the ingestion pipeline,
// so transient failures are retried with backoff before the pipeline gives
// up on a source.
type Service struct {
	provider       interfaces.EmbeddingProvider
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	logger         arbor.ILogger
}

var _ interfaces.EmbeddingService = (*Service)(nil)

func NewService(provider interfaces.EmbeddingProvider, config *common.Config, logger arbor.ILogger) *Service {
	perSecond := config.LLM.EmbedRateLimit
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	backoff, err := time.ParseDuration(config.Ingest.InitialBackoff)
	if err != nil {
		backoff = 500 * time.Millisecond
	}

	return &Service{
		provider:       provider,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), burst),
		maxAttempts:    config.Ingest.MaxAttempts,
		initialBackoff: backoff,
		logger:         logger,
	}
}

// EmbedChunks fills in the Embedding field of every chunk in order. A
// failure on any chunk aborts the batch; the caller decides whether the
// partially embedded slice is retried or discarded.
func (s *Service) EmbedChunks(ctx context.Context, chunks []*models.Chunk) error {
	started := time.Now()

	for i, chunk := range chunks {
		vector, err := s.embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d/%d: %w", i+1, len(chunks), err)
		}
		chunk.Embedding = vector
	}

	s.logger.Debug().
		Int("chunks", len(chunks)).
		Dur("elapsed", time.Since(started)).
		Str("model", s.provider.ModelName()).
		Msg("Chunk batch embedded")

	return nil
}

// EmbedQuery embeds query text with the same provider used for chunks so
// dimensionality always matches.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text)
}

func (s *Service) Dimension() int {
	return s.provider.Dimension()
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	var vector []float32
	err := common.Retry(ctx, s.maxAttempts, s.initialBackoff, isTransient, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := s.provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingTransient, err)
		}
		return nil, err
	}

	return vector, nil
}

// isTransient reports whether an embedding failure is worth retrying.
// Context cancellation and malformed requests are not; network and
// provider-side errors are.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, terminal := range []string{"invalid api key", "api key not found", "unauthorized", "dimension mismatch"} {
		if strings.Contains(msg, terminal) {
			return false
		}
	}
	return true
}
