package interfaces

import "context"

// VectorMatch is one nearest-neighbour hit from the index.
type VectorMatch struct {
	ChunkID    string
	SourceID   string
	Similarity float64
}

// VectorIndex stores chunk vectors namespaced by source ID. Query never
// returns matches outside the requested scope; deletion removes a source's
// namespace wholesale.
type VectorIndex interface {
	// Upsert replaces the namespace for sourceID with the given vectors.
	Upsert(ctx context.Context, sourceID string, chunkIDs []string, vectors [][]float32) error

	// Query returns the topK most similar chunks across the scoped sources.
	Query(ctx context.Context, vector []float32, scope []string, topK int) ([]VectorMatch, error)

	// Delete removes all vectors for a source.
	Delete(ctx context.Context, sourceID string) error

	// Count returns the number of vectors stored for a source, used for
	// post-write verification.
	Count(ctx context.Context, sourceID string) (int, error)
}
