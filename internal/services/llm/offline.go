package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
)

// OfflineService is a deterministic in-process provider used for
// development and tests. Embeddings are token-hash projections so that
// texts sharing vocabulary land near each other; completions echo a fixed
// acknowledgement. No network calls are made.
type OfflineService struct {
	dimension int
	logger    arbor.ILogger
}

var (
	_ interfaces.GenerationProvider = (*OfflineService)(nil)
	_ interfaces.EmbeddingProvider  = (*OfflineService)(nil)
)

// NewOfflineService creates an offline provider with the given embedding
// dimension.
func NewOfflineService(dimension int, logger arbor.ILogger) *OfflineService {
	if dimension <= 0 {
		dimension = 768
	}
	return &OfflineService{dimension: dimension, logger: logger}
}

// Embed produces a deterministic bag-of-tokens projection, L2-normalized.
func (s *OfflineService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, s.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := int(h.Sum32()) % s.dimension
		if idx < 0 {
			idx += s.dimension
		}
		vec[idx]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dimension returns the embedding dimension.
func (s *OfflineService) Dimension() int { return s.dimension }

// ModelName returns the offline model identifier.
func (s *OfflineService) ModelName() string { return "offline-hash" }

// Complete returns a canned acknowledgement containing the last user
// message, sufficient for wiring tests.
func (s *OfflineService) Complete(ctx context.Context, messages []interfaces.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for completion")
	}
	last := messages[len(messages)-1]
	return "offline response: " + last.Content, nil
}

// GetMode returns the operational mode.
func (s *OfflineService) GetMode() interfaces.ProviderMode {
	return interfaces.ProviderModeOffline
}

// HealthCheck always succeeds for the offline provider.
func (s *OfflineService) HealthCheck(ctx context.Context) error { return nil }

// Close releases resources.
func (s *OfflineService) Close() error { return nil }
