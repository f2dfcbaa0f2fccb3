package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ChunkStorage implements the ChunkStorage interface for Badger
type ChunkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChunkStorage creates a new ChunkStorage instance
func NewChunkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChunkStorage {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChunkStorage) SaveChunks(chunks []*models.Chunk) error {
	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk ID is required")
		}
		if err := s.db.Store().Upsert(chunk.ID, chunk); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

func (s *ChunkStorage) GetChunk(id string) (*models.Chunk, error) {
	var chunk models.Chunk
	if err := s.db.Store().Get(id, &chunk); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("chunk not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &chunk, nil
}

func (s *ChunkStorage) ListChunksBySource(sourceID string) ([]*models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.Store().Find(&chunks, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID").SortBy("Ordinal"))
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for source %s: %w", sourceID, err)
	}
	result := make([]*models.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

func (s *ChunkStorage) CountChunksBySource(sourceID string) (int, error) {
	count, err := s.db.Store().Count(&models.Chunk{}, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for source %s: %w", sourceID, err)
	}
	return int(count), nil
}

func (s *ChunkStorage) DeleteChunksBySource(sourceID string) (int, error) {
	count, err := s.CountChunksBySource(sourceID)
	if err != nil {
		return 0, err
	}
	err = s.db.Store().DeleteMatching(&models.Chunk{}, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID"))
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for source %s: %w", sourceID, err)
	}
	return count, nil
}
