package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/models"
)

type stubProvider struct {
	dimension int
	calls     int
	failFirst int
	failWith  error
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return nil, p.failWith
	}
	v := make([]float32, p.dimension)
	for i := range v {
		v[i] = float32(len(text) % (i + 2))
	}
	return v, nil
}

func (p *stubProvider) Dimension() int    { return p.dimension }
func (p *stubProvider) ModelName() string { return "stub" }

func newTestEmbeddingService(provider *stubProvider) *Service {
	cfg := common.NewDefaultConfig()
	cfg.LLM.EmbedRateLimit = 10000
	cfg.Ingest.MaxAttempts = 3
	cfg.Ingest.InitialBackoff = "1ms"
	return NewService(provider, cfg, arbor.NewLogger())
}

func TestEmbedChunksFillsVectors(t *testing.T) {
	provider := &stubProvider{dimension: 8}
	svc := newTestEmbeddingService(provider)

	chunks := []*models.Chunk{
		{ID: "a", Text: "Roll the dice."},
		{ID: "b", Text: "Move your token."},
	}

	err := svc.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)

	for _, c := range chunks {
		assert.Len(t, c.Embedding, 8)
	}
	assert.Equal(t, 2, provider.calls)
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	provider := &stubProvider{
		dimension: 4,
		failFirst: 2,
		failWith:  errors.New("connection reset by peer"),
	}
	svc := newTestEmbeddingService(provider)

	vector, err := svc.EmbedQuery(context.Background(), "sneak attack rules")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
	assert.Equal(t, 3, provider.calls)
}

func TestEmbedExhaustedRetriesReturnsTransientError(t *testing.T) {
	provider := &stubProvider{
		dimension: 4,
		failFirst: 10,
		failWith:  errors.New("service unavailable"),
	}
	svc := newTestEmbeddingService(provider)

	_, err := svc.EmbedQuery(context.Background(), "sneak attack rules")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbeddingTransient)
	assert.Equal(t, 3, provider.calls, "should stop after max attempts")
}

func TestEmbedTerminalErrorNotRetried(t *testing.T) {
	provider := &stubProvider{
		dimension: 4,
		failFirst: 10,
		failWith:  errors.New("invalid api key"),
	}
	svc := newTestEmbeddingService(provider)

	_, err := svc.EmbedQuery(context.Background(), "sneak attack rules")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrEmbeddingTransient)
	assert.Equal(t, 1, provider.calls)
}

func TestEmbedEmptyText(t *testing.T) {
	provider := &stubProvider{dimension: 4}
	svc := newTestEmbeddingService(provider)

	_, err := svc.EmbedQuery(context.Background(), "   ")
	require.Error(t, err)
	assert.Zero(t, provider.calls)
}

func TestEmbedChunksAbortsOnFailure(t *testing.T) {
	provider := &stubProvider{
		dimension: 4,
		failFirst: 10,
		failWith:  errors.New("rate limited"),
	}
	svc := newTestEmbeddingService(provider)

	chunks := []*models.Chunk{
		{ID: "a", Text: "Roll the dice."},
		{ID: "b", Text: "Move your token."},
	}

	err := svc.EmbedChunks(context.Background(), chunks)
	require.Error(t, err)
	assert.Nil(t, chunks[0].Embedding)
}
