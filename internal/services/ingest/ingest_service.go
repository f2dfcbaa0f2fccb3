package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Service coordinates the write-path pipeline: classify, parse, chunk,
// embed, index, verify. Ingestion is single-flight per source: a second
// request for the same source while one is running is rejected, never run
// concurrently. Any failure purges the source's chunks and vectors so a
// failed run can never leave partial state behind.
type Service struct {
	storage    interfaces.StorageManager
	index      interfaces.VectorIndex
	parser     interfaces.DocumentParser
	classifier interfaces.ClassifierProvider
	chunker    interfaces.Chunker
	embedder   interfaces.EmbeddingService
	events     interfaces.EventService
	config     *common.IngestConfig
	logger     arbor.ILogger

	mu       sync.Mutex
	inFlight map[string]bool
}

var _ interfaces.IngestService = (*Service)(nil)

func NewService(
	storage interfaces.StorageManager,
	index interfaces.VectorIndex,
	parser interfaces.DocumentParser,
	classifier interfaces.ClassifierProvider,
	chunker interfaces.Chunker,
	embedder interfaces.EmbeddingService,
	events interfaces.EventService,
	config *common.IngestConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:    storage,
		index:      index,
		parser:     parser,
		classifier: classifier,
		chunker:    chunker,
		embedder:   embedder,
		events:     events,
		config:     config,
		logger:     logger,
		inFlight:   make(map[string]bool),
	}
}

// Ingest processes one document synchronously and returns the Source with
// its final status. Re-ingesting a document for an existing (game, name,
// tier) identity replaces that source wholesale under the same ID.
func (s *Service) Ingest(ctx context.Context, desc *models.SourceDescriptor, data []byte) (*models.Source, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", models.ErrParseFailed)
	}

	src, err := s.resolveSource(desc)
	if err != nil {
		return nil, err
	}

	if !s.acquire(src.ID) {
		return nil, fmt.Errorf("%w: source %s", models.ErrIngestionInFlight, src.ID)
	}
	defer s.release(src.ID)

	started := time.Now()

	src.Status = models.SourceStatusProcessing
	src.ErrorMessage = ""
	src.UpdatedAt = time.Now()
	if err := s.storage.SourceStorage().SaveSource(src); err != nil {
		return nil, fmt.Errorf("failed to save source: %w", err)
	}

	s.publish(ctx, interfaces.EventIngestStarted, src)

	if err := s.run(ctx, src, desc, data); err != nil {
		s.fail(ctx, src, err)
		return src, err
	}

	s.logger.Info().
		Str("source_id", src.ID).
		Str("game_id", src.GameID).
		Int("chunks", src.ChunkCount).
		Dur("elapsed", time.Since(started)).
		Msg("Source indexed")

	s.publish(ctx, interfaces.EventIngestCompleted, src)
	return src, nil
}

// run executes the pipeline stages against an acquired source.
func (s *Service) run(ctx context.Context, src *models.Source, desc *models.SourceDescriptor, data []byte) error {
	doc, err := s.parser.Parse(ctx, data, desc.ContentType)
	if err != nil {
		return err
	}
	src.LowFidelity = doc.LowFidelity
	s.progress(ctx, src, "parsed")

	classification, err := s.classifier.Classify(ctx, doc.LeadingText(s.config.ClassifyChars))
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	if !classification.Accepted {
		return fmt.Errorf("%w: %s", models.ErrClassificationRejected, classification.Reason)
	}
	s.progress(ctx, src, "classified")

	chunks, err := s.chunker.Chunk(doc, src)
	if err != nil {
		return err
	}
	s.progress(ctx, src, "chunked")

	if err := s.embedder.EmbedChunks(ctx, chunks); err != nil {
		return err
	}
	s.progress(ctx, src, "embedded")

	if err := s.indexAndVerify(ctx, src.ID, chunks); err != nil {
		return err
	}
	s.progress(ctx, src, "indexed")

	// Replace persisted chunks only after the vector write verified, so
	// the lexical channel and the index never disagree on chunk count.
	if _, err := s.storage.ChunkStorage().DeleteChunksBySource(src.ID); err != nil {
		return err
	}
	if err := s.storage.ChunkStorage().SaveChunks(chunks); err != nil {
		return err
	}

	src.ChunkCount = len(chunks)
	src.Status = models.SourceStatusIndexed
	src.UpdatedAt = time.Now()
	return s.storage.SourceStorage().SaveSource(src)
}

// indexAndVerify upserts the vectors and confirms the written count matches
// before declaring success. A mismatch retries the write; persistent
// mismatch fails the ingestion rather than accepting partial state.
func (s *Service) indexAndVerify(ctx context.Context, sourceID string, chunks []*models.Chunk) error {
	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Embedding
	}

	backoff, err := time.ParseDuration(s.config.InitialBackoff)
	if err != nil {
		backoff = 500 * time.Millisecond
	}

	retryable := func(err error) bool {
		return errors.Is(err, models.ErrIndexVerificationMismatch)
	}

	return common.Retry(ctx, s.config.MaxAttempts, backoff, retryable, func() error {
		if err := s.index.Upsert(ctx, sourceID, ids, vectors); err != nil {
			return err
		}
		count, err := s.index.Count(ctx, sourceID)
		if err != nil {
			return err
		}
		if count != len(chunks) {
			return fmt.Errorf("%w: wrote %d vectors, expected %d", models.ErrIndexVerificationMismatch, count, len(chunks))
		}
		return nil
	})
}

// fail records the terminal failure and purges any state the run created.
func (s *Service) fail(ctx context.Context, src *models.Source, cause error) {
	if err := s.purge(ctx, src.ID); err != nil {
		s.logger.Error().
			Err(err).
			Str("source_id", src.ID).
			Msg("Failed to purge after ingestion failure")
	}

	src.Status = models.SourceStatusFailed
	src.ChunkCount = 0
	src.ErrorMessage = cause.Error()
	src.UpdatedAt = time.Now()
	if err := s.storage.SourceStorage().SaveSource(src); err != nil {
		s.logger.Error().
			Err(err).
			Str("source_id", src.ID).
			Msg("Failed to record ingestion failure")
	}

	s.logger.Warn().
		Err(cause).
		Str("source_id", src.ID).
		Msg("Ingestion failed")

	s.publish(ctx, interfaces.EventIngestFailed, src)
}

// purge removes a source's chunks and vectors. Manual removal and the
// expiry sweep both run through here.
func (s *Service) purge(ctx context.Context, sourceID string) error {
	if _, err := s.storage.ChunkStorage().DeleteChunksBySource(sourceID); err != nil {
		return err
	}
	return s.index.Delete(ctx, sourceID)
}

// Status returns the current lifecycle state of a source.
func (s *Service) Status(sourceID string) (*models.Source, error) {
	return s.storage.SourceStorage().GetSource(sourceID)
}

// Remove hard-deletes a source: chunks, vectors and the record itself.
func (s *Service) Remove(ctx context.Context, sourceID string) error {
	if _, err := s.storage.SourceStorage().GetSource(sourceID); err != nil {
		return err
	}
	if err := s.purge(ctx, sourceID); err != nil {
		return err
	}
	if err := s.storage.SourceStorage().DeleteSource(sourceID); err != nil {
		return err
	}

	s.logger.Info().Str("source_id", sourceID).Msg("Source removed")
	return nil
}

// Expire purges a source's retrievable state but keeps the record in the
// EXPIRED status, so callers polling the source see why it vanished from
// query scope.
func (s *Service) Expire(ctx context.Context, sourceID string) error {
	src, err := s.storage.SourceStorage().GetSource(sourceID)
	if err != nil {
		return err
	}
	if err := s.purge(ctx, sourceID); err != nil {
		return err
	}

	src.Status = models.SourceStatusExpired
	src.ChunkCount = 0
	src.UpdatedAt = time.Now()
	if err := s.storage.SourceStorage().SaveSource(src); err != nil {
		return err
	}

	s.publish(ctx, interfaces.EventSourceExpired, src)
	s.logger.Info().Str("source_id", sourceID).Msg("Source expired")
	return nil
}

// resolveSource reuses the existing source ID for a (game, name, tier)
// identity so re-ingestion replaces rather than duplicates, and builds a
// fresh record otherwise.
func (s *Service) resolveSource(desc *models.SourceDescriptor) (*models.Source, error) {
	existing, err := s.storage.SourceStorage().ListSourcesByGame(desc.GameID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var src *models.Source
	for _, candidate := range existing {
		if strings.EqualFold(candidate.Name, desc.Name) && candidate.Tier == desc.Tier {
			src = candidate
			break
		}
	}
	if src == nil {
		src = &models.Source{
			ID:        common.NewSourceID(),
			CreatedAt: now,
		}
	}

	src.Name = desc.Name
	src.GameID = desc.GameID
	src.Tier = desc.Tier
	src.Precedence = desc.Tier.Precedence()
	src.Official = desc.Official

	src.ExpiresAt = nil
	if desc.TTL != "" {
		ttl, err := time.ParseDuration(desc.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl: %w", err)
		}
		expires := now.Add(ttl)
		src.ExpiresAt = &expires
	}

	return src, nil
}

func (s *Service) acquire(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[sourceID] {
		return false
	}
	s.inFlight[sourceID] = true
	return true
}

func (s *Service) release(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sourceID)
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, src *models.Source) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    eventType,
		Payload: src,
	})
}

func (s *Service) progress(ctx context.Context, src *models.Source, stage string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventIngestProgress,
		Payload: map[string]string{
			"source_id": src.ID,
			"stage":     stage,
		},
	})
}
