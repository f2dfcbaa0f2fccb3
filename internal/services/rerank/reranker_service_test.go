package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

type scriptedGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *scriptedGenerator) Complete(ctx context.Context, messages []interfaces.Message) (string, error) {
	g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	return g.response, g.err
}

func (g *scriptedGenerator) GetMode() interfaces.ProviderMode     { return interfaces.ProviderModeOffline }
func (g *scriptedGenerator) HealthCheck(ctx context.Context) error { return nil }
func (g *scriptedGenerator) Close() error                          { return nil }

func evidence(id string, precedence int, body string) *models.Evidence {
	return &models.Evidence{
		Chunk: &models.Chunk{
			ID:         id,
			Body:       body,
			Text:       body,
			Precedence: precedence,
		},
	}
}

func testVerdictConfig() *common.VerdictConfig {
	return &common.VerdictConfig{
		ContextMin:       5,
		ContextMax:       8,
		JaccardThreshold: 0.8,
	}
}

func TestLLMRerankerScoresBatch(t *testing.T) {
	gen := &scriptedGenerator{response: "[0.9, 0.2, 0.5]"}
	r := NewLLMReranker(gen, arbor.NewLogger())

	scores, err := r.Score(context.Background(), "can I sneak attack?",
		[]string{"passage one", "passage two", "passage three"})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.9, 0.2, 0.5}, scores)
	require.Len(t, gen.prompts, 1, "scoring must be one batched call")
	assert.Contains(t, gen.prompts[0], "[1] passage one")
	assert.Contains(t, gen.prompts[0], "[3] passage three")
}

func TestLLMRerankerCountMismatch(t *testing.T) {
	gen := &scriptedGenerator{response: "[0.9, 0.2]"}
	r := NewLLMReranker(gen, arbor.NewLogger())

	_, err := r.Score(context.Background(), "q", []string{"a", "b", "c"})
	assert.Error(t, err)
}

func TestLLMRerankerClampsScores(t *testing.T) {
	gen := &scriptedGenerator{response: "the scores are [1.4, -0.2]"}
	r := NewLLMReranker(gen, arbor.NewLogger())

	scores, err := r.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, scores)
}

func TestRerankOrdersByScoreAndTruncates(t *testing.T) {
	candidates := make([]*models.Evidence, 15)
	scores := make([]float64, 15)
	for i := range candidates {
		candidates[i] = evidence(fmt.Sprintf("c%02d", i), 0,
			fmt.Sprintf("distinct rule text number %d about topic %d", i, i))
		scores[i] = float64(i) / 20.0
	}
	payload, _ := json.Marshal(scores)

	gen := &scriptedGenerator{response: string(payload)}
	svc := NewService(NewLLMReranker(gen, arbor.NewLogger()),
		&common.RetrievalConfig{RerankTopK: 10}, testVerdictConfig(), arbor.NewLogger())

	final, err := svc.Rerank(context.Background(), "question", candidates)
	require.NoError(t, err)

	require.Len(t, final, 8, "context window is capped at ContextMax")
	assert.Equal(t, "c14", final[0].Chunk.ID)
	assert.InDelta(t, 0.7, final[0].RerankScore, 1e-9)
	for i := 1; i < len(final); i++ {
		assert.GreaterOrEqual(t, final[i-1].RerankScore, final[i].RerankScore)
	}
}

func TestResolvePromotesHigherPrecedenceNearDuplicate(t *testing.T) {
	resolver := NewResolver(testVerdictConfig(), arbor.NewLogger())

	base := evidence("base", 0,
		"A rogue may not use sneak attack with a thrown weapon under any circumstance in this game.")
	errata := evidence("errata", 100,
		"A rogue may now use sneak attack with a thrown weapon under any circumstance in this game.")
	unrelated := evidence("other", 0, "Mounts move at double speed on roads.")

	out := resolver.Resolve([]*models.Evidence{base, unrelated, errata})

	require.Len(t, out, 3)
	idxOf := func(id string) int {
		for i, ev := range out {
			if ev.Chunk.ID == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idxOf("errata"), idxOf("base"),
		"higher precedence near-duplicate must rank ahead")
}

func TestResolveLeavesDistinctChunksAlone(t *testing.T) {
	resolver := NewResolver(testVerdictConfig(), arbor.NewLogger())

	a := evidence("a", 0, "Flanking grants a plus two bonus to melee attack rolls.")
	b := evidence("b", 100, "The errata changes how initiative ties are resolved at the table.")

	out := resolver.Resolve([]*models.Evidence{a, b})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ID, "distinct chunks keep their rerank order")
}

func TestResolveDropsSupersededWhenOverBudget(t *testing.T) {
	cfg := testVerdictConfig()
	resolver := NewResolver(cfg, arbor.NewLogger())

	var input []*models.Evidence
	errata := evidence("errata", 100,
		"Grappling a larger creature imposes disadvantage on the attempt roll always.")
	base := evidence("base", 0,
		"Grappling a larger creature imposes disadvantage on the attempt roll normally.")
	input = append(input, base, errata)
	for i := 0; i < 8; i++ {
		input = append(input, evidence(fmt.Sprintf("x%d", i), 0,
			fmt.Sprintf("Unrelated rule number %d about a different mechanic entirely %d.", i, i)))
	}

	out := resolver.Resolve(input)

	assert.LessOrEqual(t, len(out), cfg.ContextMax)
	ids := map[string]bool{}
	for _, ev := range out {
		ids[ev.Chunk.ID] = true
	}
	assert.True(t, ids["errata"], "winning duplicate stays")
	assert.False(t, ids["base"], "superseded duplicate is dropped under budget pressure")
}

func TestSuperseded(t *testing.T) {
	resolver := NewResolver(testVerdictConfig(), arbor.NewLogger())

	base := evidence("base", 0, "The attack bonus applies to every melee weapon swing made this turn.")
	errata := evidence("errata", 100, "The attack bonus applies to every melee weapon swing made this round.")
	ctx := []*models.Evidence{errata, base}

	assert.True(t, resolver.Superseded(base, ctx))
	assert.False(t, resolver.Superseded(errata, ctx))
}
