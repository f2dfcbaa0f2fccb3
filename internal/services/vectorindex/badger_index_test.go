package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	storagebadger "github.com/ternarybob/regula/internal/storage/badger"
)

func newTestIndex(t *testing.T) *BadgerIndex {
	t.Helper()

	db, err := storagebadger.NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewBadgerIndex(db, arbor.NewLogger())
}

func TestUpsertAndQuery(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, "src_a",
		[]string{"src_a:chunk_0000", "src_a:chunk_0001"},
		[][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)

	matches, err := idx.Query(ctx, []float32{1, 0.1, 0}, []string{"src_a"}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "src_a:chunk_0000", matches[0].ChunkID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.05)
}

func TestQueryRespectsScope(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "src_a", []string{"a0"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, "src_b", []string{"b0"}, [][]float32{{1, 0}}))

	matches, err := idx.Query(ctx, []float32{1, 0}, []string{"src_a"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "src_a", matches[0].SourceID)
}

func TestUpsertReplacesNamespace(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "src_a",
		[]string{"a0", "a1", "a2"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}}))

	// Re-ingestion with fewer chunks must not leave stale vectors behind.
	require.NoError(t, idx.Upsert(ctx, "src_a",
		[]string{"a0"}, [][]float32{{1, 0}}))

	count, err := idx.Count(ctx, "src_a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteRemovesNamespace(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "src_a", []string{"a0"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Delete(ctx, "src_a"))

	count, err := idx.Count(ctx, "src_a")
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := idx.Query(ctx, []float32{1, 0}, []string{"src_a"}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpsertLengthMismatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Upsert(context.Background(), "src_a", []string{"a0", "a1"}, [][]float32{{1, 0}})
	assert.Error(t, err)
}

func TestQueryTopKBound(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	ids := []string{"a0", "a1", "a2", "a3", "a4"}
	vecs := [][]float32{{1, 0}, {0.9, 0.1}, {0.8, 0.2}, {0, 1}, {0.1, 0.9}}
	require.NoError(t, idx.Upsert(ctx, "src_a", ids, vecs))

	matches, err := idx.Query(ctx, []float32{1, 0}, []string{"src_a"}, 3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
