package judge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
	"github.com/ternarybob/regula/internal/services/conflicts"
	"github.com/ternarybob/regula/internal/services/embeddings"
	"github.com/ternarybob/regula/internal/services/llm"
	"github.com/ternarybob/regula/internal/services/query"
	"github.com/ternarybob/regula/internal/services/rerank"
	"github.com/ternarybob/regula/internal/services/retrieval"
	"github.com/ternarybob/regula/internal/services/vectorindex"
	"github.com/ternarybob/regula/internal/services/verdict"
	storagebadger "github.com/ternarybob/regula/internal/storage/badger"
)

var passageMarkerRe = regexp.MustCompile(`(?m)^\[\d+\]`)

// routingGenerator answers each pipeline stage from its system prompt, so
// one fake serves the reranker, conflict detector and synthesizer at once.
type routingGenerator struct {
	mu            sync.Mutex
	rerankCalls   int
	rerankPrompts []string
	synthCalls    int
	synthPrompts  []string
	synthResponse string
}

func (g *routingGenerator) Complete(_ context.Context, messages []interfaces.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	system := messages[0].Content
	user := messages[len(messages)-1].Content

	switch {
	case strings.Contains(system, "relevance scorer"):
		g.rerankCalls++
		g.rerankPrompts = append(g.rerankPrompts, user)
		count := len(passageMarkerRe.FindAllString(user, -1))
		scores := make([]string, count)
		for i := range scores {
			scores[i] = fmt.Sprintf("%.2f", 0.9-0.05*float64(i))
		}
		return "[" + strings.Join(scores, ", ") + "]", nil
	case strings.Contains(system, "rules judge"):
		g.synthCalls++
		g.synthPrompts = append(g.synthPrompts, user)
		return g.synthResponse, nil
	default:
		return "", fmt.Errorf("unexpected system prompt: %s", system)
	}
}

func (g *routingGenerator) GetMode() interfaces.ProviderMode  { return interfaces.ProviderModeOffline }
func (g *routingGenerator) HealthCheck(context.Context) error { return nil }
func (g *routingGenerator) Close() error                      { return nil }

const directVerdict = `{
	"ruling": "Sneak attack adds 2d6 damage when you have advantage.",
	"reasoning": "The sneak attack rule states the bonus directly.",
	"confidence": 0.93,
	"confidence_reason": "Direct band: the evidence states the answer outright.",
	"citations": [1],
	"insufficient_context": false
}`

type fixture struct {
	svc     *Service
	storage interfaces.StorageManager
	gen     *routingGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	storage, err := storagebadger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	index := vectorindex.NewBadgerIndex(storage.(*storagebadger.Manager).DB(), logger)
	offline := llm.NewOfflineService(8, logger)
	embedder := embeddings.NewService(offline, common.NewDefaultConfig(), logger)

	retrievalConfig := &common.RetrievalConfig{
		RRFK:          60,
		OfficialBoost: 1.05,
		CandidateSize: 50,
		ChannelTopK:   20,
		RerankTopK:    10,
	}
	verdictConfig := &common.VerdictConfig{
		ContextMin:       1,
		ContextMax:       8,
		JaccardThreshold: 0.8,
	}

	gen := &routingGenerator{synthResponse: directVerdict}

	svc := NewService(
		storage.SourceStorage(),
		query.NewExpander(logger),
		retrieval.NewService(index, storage.ChunkStorage(), embedder, retrievalConfig, logger),
		rerank.NewService(rerank.NewLLMReranker(gen, logger), retrievalConfig, verdictConfig, logger),
		conflicts.NewDetector(gen, verdictConfig, logger),
		verdict.NewSynthesizer(gen, verdictConfig, logger),
		retrievalConfig,
		logger,
	)

	f := &fixture{svc: svc, storage: storage, gen: gen}
	f.seedSource(t, index, embedder, "src_core", "Core Rules", models.TierBase, map[string][]string{
		"Combat > Sneak Attack": {
			"Sneak attack adds 2d6 damage when you attack with advantage against a hostile creature.",
		},
		"Combat > Grappling": {
			"Grappling replaces one attack. The target is restrained until it escapes with a contested check.",
		},
		"Exploration > Climbing": {
			"Climbing costs one extra foot of movement for every foot climbed unless a creature has a climb speed.",
		},
	})
	return f
}

func (f *fixture) seedSource(
	t *testing.T,
	index interfaces.VectorIndex,
	embedder interfaces.EmbeddingService,
	id, name string,
	tier models.SourceTier,
	sections map[string][]string,
) {
	t.Helper()
	ctx := context.Background()

	src := &models.Source{
		ID:         id,
		Name:       name,
		GameID:     "test-game",
		Tier:       tier,
		Precedence: tier.Precedence(),
		Official:   true,
		Status:     models.SourceStatusIndexed,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	var chunks []*models.Chunk
	ordinal := 0
	for section, bodies := range sections {
		for _, body := range bodies {
			chunks = append(chunks, &models.Chunk{
				ID:          common.NewChunkID(id, ordinal),
				SourceID:    id,
				Ordinal:     ordinal,
				Text:        section + "\n\n" + body,
				Body:        body,
				Page:        ordinal + 1,
				SectionPath: strings.Split(section, " > "),
				Precedence:  src.Precedence,
				Official:    src.Official,
			})
			ordinal++
		}
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vec, err := embedder.EmbedQuery(ctx, c.Text)
		require.NoError(t, err)
		c.Embedding = vec
		ids[i] = c.ID
		vectors[i] = vec
	}

	src.ChunkCount = len(chunks)
	require.NoError(t, f.storage.SourceStorage().SaveSource(src))
	require.NoError(t, f.storage.ChunkStorage().SaveChunks(chunks))
	require.NoError(t, index.Upsert(ctx, id, ids, vectors))
}

func TestJudgeAnswersScopedQuestion(t *testing.T) {
	f := newFixture(t)

	v, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "How much damage does sneak attack add?",
		Scope: []string{"src_core"},
	})
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.True(t, v.Grounded())
	assert.Contains(t, v.Ruling, "2d6")
	assert.NotEmpty(t, v.ConfidenceReason)

	require.Len(t, v.Citations, 1)
	assert.Equal(t, "Core Rules", v.Citations[0].SourceName)
	assert.Equal(t, "src_core", v.Citations[0].SourceID)
	assert.True(t, v.Citations[0].Official)

	assert.Equal(t, 1, f.gen.rerankCalls)
	assert.Equal(t, 1, f.gen.synthCalls)
}

func TestJudgeEmptyScopeIsHardError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "How much damage does sneak attack add?",
		Scope: nil,
	})
	assert.ErrorIs(t, err, models.ErrScopeEmpty)
}

func TestJudgeRejectsEmptyQuestion(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "   ",
		Scope: []string{"src_core"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestJudgeScopeWithNoIndexedSources(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.storage.SourceStorage().SaveSource(&models.Source{
		ID:     "src_pending",
		Name:   "Pending Upload",
		GameID: "test-game",
		Tier:   models.TierBase,
		Status: models.SourceStatusProcessing,
	}))

	_, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "How much damage does sneak attack add?",
		Scope: []string{"src_pending", "src_missing"},
	})
	assert.ErrorIs(t, err, models.ErrScopeEmpty)
}

func TestJudgeSkipsUnknownSourcesInScope(t *testing.T) {
	f := newFixture(t)

	v, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "How much damage does sneak attack add?",
		Scope: []string{"src_missing", "src_core"},
	})
	require.NoError(t, err)
	assert.True(t, v.Grounded())
}

func TestJudgeCompoundQuestionWidensCandidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "How much damage does sneak attack add, and how does grappling restrain a target?",
		Scope: []string{"src_core"},
	})
	require.NoError(t, err)

	require.Len(t, f.gen.rerankPrompts, 1)
	prompt := f.gen.rerankPrompts[0]
	assert.Contains(t, prompt, "Sneak attack adds 2d6")
	assert.Contains(t, prompt, "Grappling replaces one attack")
}

func TestJudgePassesHistoryThrough(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Judge(context.Background(), &models.Question{
		Text:  "What about grappling?",
		Scope: []string{"src_core"},
		History: []models.Turn{
			{Role: "user", Content: "How much damage does sneak attack add?"},
			{Role: "assistant", Content: "Sneak attack adds 2d6 damage."},
		},
	})
	require.NoError(t, err)

	require.Len(t, f.gen.synthPrompts, 1)
	assert.Contains(t, f.gen.synthPrompts[0], "sneak attack")
}
