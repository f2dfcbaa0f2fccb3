package interfaces

import (
	"context"

	"github.com/ternarybob/regula/internal/models"
)

// IngestService runs the write-path pipeline: classify, parse, chunk,
// embed, index, verify.
type IngestService interface {
	// Ingest processes a document synchronously and returns the resulting
	// Source with its final status. Single-flight per source identity.
	Ingest(ctx context.Context, desc *models.SourceDescriptor, data []byte) (*models.Source, error)

	// Status returns the current lifecycle state of a source.
	Status(sourceID string) (*models.Source, error)

	// Remove hard-deletes a source's chunks and vectors. The expiry sweep
	// uses this same path.
	Remove(ctx context.Context, sourceID string) error
}

// JudgeService runs the read-path pipeline: expand, retrieve, rerank,
// resolve hierarchy, detect conflicts, synthesize.
type JudgeService interface {
	Judge(ctx context.Context, q *models.Question) (*models.Verdict, error)
}

// Chunker splits a parsed document into retrieval units.
type Chunker interface {
	Chunk(doc *models.ParsedDocument, src *models.Source) ([]*models.Chunk, error)
}

// EmbeddingService wraps the embedding provider with batching, rate
// limiting and retry.
type EmbeddingService interface {
	EmbedChunks(ctx context.Context, chunks []*models.Chunk) error
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Retriever issues dense and lexical retrieval across scoped sources and
// fuses the result lists.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope []string, topK int) ([]*models.Evidence, error)
}
