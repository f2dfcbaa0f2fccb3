package badger

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) SaveSource(src *models.Source) error {
	if src.ID == "" {
		return fmt.Errorf("source ID is required")
	}

	now := time.Now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	if err := s.db.Store().Upsert(src.ID, src); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *SourceStorage) GetSource(id string) (*models.Source, error) {
	var src models.Source
	if err := s.db.Store().Get(id, &src); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

func (s *SourceStorage) ListSources() ([]*models.Source, error) {
	var sources []models.Source
	if err := s.db.Store().Find(&sources, nil); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	result := make([]*models.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *SourceStorage) ListSourcesByGame(gameID string) ([]*models.Source, error) {
	var sources []models.Source
	err := s.db.Store().Find(&sources, badgerhold.Where("GameID").Eq(gameID).Index("GameID"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sources for game %s: %w", gameID, err)
	}
	result := make([]*models.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *SourceStorage) ListExpiredSources(now time.Time) ([]*models.Source, error) {
	// ExpiresAt is a pointer, so the filter runs client-side via MatchFunc.
	var sources []models.Source
	err := s.db.Store().Find(&sources, badgerhold.Where("ID").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
		src, ok := ra.Record().(*models.Source)
		if !ok {
			return false, nil
		}
		return src.Expired(now), nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sources: %w", err)
	}
	result := make([]*models.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

func (s *SourceStorage) DeleteSource(id string) error {
	if err := s.db.Store().Delete(id, &models.Source{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}
