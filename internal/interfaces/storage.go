package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/regula/internal/models"
)

// SourceStorage persists Source records.
type SourceStorage interface {
	SaveSource(src *models.Source) error
	GetSource(id string) (*models.Source, error)
	ListSources() ([]*models.Source, error)
	ListSourcesByGame(gameID string) ([]*models.Source, error)
	// ListExpiredSources returns sources whose TTL has elapsed at now.
	ListExpiredSources(now time.Time) ([]*models.Source, error)
	DeleteSource(id string) error
}

// ChunkStorage persists chunk records keyed by source.
type ChunkStorage interface {
	SaveChunks(chunks []*models.Chunk) error
	GetChunk(id string) (*models.Chunk, error)
	ListChunksBySource(sourceID string) ([]*models.Chunk, error)
	CountChunksBySource(sourceID string) (int, error)
	DeleteChunksBySource(sourceID string) (int, error)
}

// KeyValueStorage holds small configuration values such as provider API
// keys, resolved ahead of environment fallbacks.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager aggregates the storage interfaces behind one lifecycle.
type StorageManager interface {
	SourceStorage() SourceStorage
	ChunkStorage() ChunkStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
