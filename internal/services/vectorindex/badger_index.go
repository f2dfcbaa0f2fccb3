package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/regula/internal/interfaces"
	storagebadger "github.com/ternarybob/regula/internal/storage/badger"
)

// vectorRecord is the persisted form of one chunk embedding. Vectors are
// L2-normalized at upsert so query-time similarity is a plain dot product.
type vectorRecord struct {
	ID       string `badgerhold:"key"`
	SourceID string `badgerhold:"index"`
	Vector   []float32
}

// BadgerIndex is a brute-force cosine similarity index persisted in badger
// and served from a per-source in-memory cache. Rulebook corpora are a few
// thousand chunks per source, well inside exact-search territory.
type BadgerIndex struct {
	db     *storagebadger.BadgerDB
	logger arbor.ILogger

	mu    sync.RWMutex
	cache map[string][]vectorRecord
}

var _ interfaces.VectorIndex = (*BadgerIndex)(nil)

func NewBadgerIndex(db *storagebadger.BadgerDB, logger arbor.ILogger) *BadgerIndex {
	return &BadgerIndex{
		db:     db,
		logger: logger,
		cache:  make(map[string][]vectorRecord),
	}
}

// Upsert replaces the whole namespace for sourceID. Replacement rather than
// merge keeps re-ingestion idempotent: stale vectors from a previous run
// cannot survive.
func (x *BadgerIndex) Upsert(ctx context.Context, sourceID string, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("chunk id count (%d) does not match vector count (%d)", len(chunkIDs), len(vectors))
	}

	started := time.Now()

	if err := x.deleteRecords(sourceID); err != nil {
		return err
	}

	records := make([]vectorRecord, 0, len(chunkIDs))
	for i, id := range chunkIDs {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("chunk %s has an empty vector", id)
		}
		rec := vectorRecord{
			ID:       id,
			SourceID: sourceID,
			Vector:   normalize(vectors[i]),
		}
		if err := x.db.Store().Upsert(rec.ID, &rec); err != nil {
			return fmt.Errorf("failed to store vector for chunk %s: %w", id, err)
		}
		records = append(records, rec)
	}

	x.mu.Lock()
	x.cache[sourceID] = records
	x.mu.Unlock()

	x.logger.Debug().
		Str("source_id", sourceID).
		Int("vectors", len(records)).
		Dur("elapsed", time.Since(started)).
		Msg("Vector namespace upserted")

	return nil
}

// Query scans the scoped namespaces and returns the topK highest cosine
// similarities. Sources outside scope are never touched.
func (x *BadgerIndex) Query(ctx context.Context, vector []float32, scope []string, topK int) ([]interfaces.VectorMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if topK <= 0 || len(scope) == 0 {
		return nil, nil
	}

	query := normalize(vector)

	var matches []interfaces.VectorMatch
	for _, sourceID := range scope {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := x.load(sourceID)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if len(rec.Vector) != len(query) {
				continue
			}
			matches = append(matches, interfaces.VectorMatch{
				ChunkID:    rec.ID,
				SourceID:   rec.SourceID,
				Similarity: dot(query, rec.Vector),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes a source's namespace from disk and cache.
func (x *BadgerIndex) Delete(ctx context.Context, sourceID string) error {
	return x.deleteRecords(sourceID)
}

// Count returns the number of persisted vectors for a source.
func (x *BadgerIndex) Count(ctx context.Context, sourceID string) (int, error) {
	count, err := x.db.Store().Count(&vectorRecord{}, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors for source %s: %w", sourceID, err)
	}
	return int(count), nil
}

func (x *BadgerIndex) deleteRecords(sourceID string) error {
	err := x.db.Store().DeleteMatching(&vectorRecord{}, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID"))
	if err != nil {
		return fmt.Errorf("failed to delete vectors for source %s: %w", sourceID, err)
	}

	x.mu.Lock()
	delete(x.cache, sourceID)
	x.mu.Unlock()

	return nil
}

// load returns the cached namespace, reading through to badger on miss.
func (x *BadgerIndex) load(sourceID string) ([]vectorRecord, error) {
	x.mu.RLock()
	records, ok := x.cache[sourceID]
	x.mu.RUnlock()
	if ok {
		return records, nil
	}

	var found []vectorRecord
	err := x.db.Store().Find(&found, badgerhold.Where("SourceID").Eq(sourceID).Index("SourceID"))
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors for source %s: %w", sourceID, err)
	}

	x.mu.Lock()
	x.cache[sourceID] = found
	x.mu.Unlock()

	return found, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
