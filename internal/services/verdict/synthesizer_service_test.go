package verdict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (g *scriptedGenerator) Complete(ctx context.Context, messages []interfaces.Message) (string, error) {
	g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	if g.err != nil {
		return "", g.err
	}
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	return g.responses[idx], nil
}

func (g *scriptedGenerator) GetMode() interfaces.ProviderMode      { return interfaces.ProviderModeOffline }
func (g *scriptedGenerator) HealthCheck(ctx context.Context) error { return nil }
func (g *scriptedGenerator) Close() error                          { return nil }

func newTestSynthesizer(gen *scriptedGenerator) *Synthesizer {
	return NewSynthesizer(gen, &common.VerdictConfig{
		ContextMin:       5,
		ContextMax:       8,
		JaccardThreshold: 0.8,
	}, arbor.NewLogger())
}

func sneakAttackEvidence() []*models.Evidence {
	return []*models.Evidence{
		{Chunk: &models.Chunk{
			ID:          "c1",
			SourceID:    "src_official",
			Body:        "Sneak attack applies to any attack with a finesse or ranged weapon when you have advantage.",
			Page:        97,
			SectionPath: []string{"Combat", "Sneak Attack"},
			Official:    true,
		}},
	}
}

func testSources() map[string]*models.Source {
	return map[string]*models.Source{
		"src_official": {ID: "src_official", Name: "Core Rulebook", Official: true},
	}
}

func question(text string) *models.Question {
	return &models.Question{Text: text, Scope: []string{"src_official"}}
}

const directAnswer = `{"ruling": "Yes. A thrown dagger is a ranged attack with a finesse weapon, so sneak attack applies.",
"reasoning": "The sneak attack rule permits finesse or ranged weapons.",
"confidence": 0.95,
"confidence_reason": "0.9 band: the evidence directly and unambiguously answers the question.",
"citations": [1],
"follow_up": "",
"insufficient_context": false,
"suggested_section": ""}`

func TestSynthesizeDirectAnswer(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{directAnswer}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(),
		question("Can the rogue sneak attack with a thrown dagger?"),
		sneakAttackEvidence(), nil, testSources())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, v.Confidence, models.ConfidenceDirect)
	require.Len(t, v.Citations, 1)
	assert.Equal(t, "Core Rulebook", v.Citations[0].SourceName)
	assert.Equal(t, 97, v.Citations[0].Page)
	assert.Equal(t, "Combat > Sneak Attack", v.Citations[0].Section)
	assert.True(t, v.Citations[0].Official)
	assert.Empty(t, v.Conflicts)
	assert.True(t, v.Grounded())
}

func TestSynthesizeCitationExcerptCapped(t *testing.T) {
	evidence := sneakAttackEvidence()
	long := make([]byte, 0, 2000)
	for i := 0; i < 200; i++ {
		long = append(long, "ten chars "...)
	}
	evidence[0].Chunk.Body = string(long)

	gen := &scriptedGenerator{responses: []string{directAnswer}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), evidence, nil, testSources())
	require.NoError(t, err)

	require.Len(t, v.Citations, 1)
	assert.LessOrEqual(t, len([]rune(v.Citations[0].Excerpt)), models.CitationExcerptMax+1)
}

func TestSynthesizeZeroEvidence(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{directAnswer}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), nil, nil, testSources())
	require.NoError(t, err)

	assert.True(t, v.InsufficientContext)
	assert.Less(t, v.Confidence, models.ConfidenceInterpretive)
	assert.Zero(t, gen.calls, "no generation call without evidence")
	assert.False(t, v.Grounded())
}

func TestSynthesizeModelAdmitsInsufficientContext(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"ruling": "",
		"reasoning": "", "confidence": 0.3,
		"confidence_reason": "below 0.5: nothing relevant",
		"citations": [], "follow_up": "",
		"insufficient_context": true, "suggested_section": "Grappling"}`}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), sneakAttackEvidence(), nil, testSources())
	require.NoError(t, err)

	assert.True(t, v.InsufficientContext)
	assert.Equal(t, "Grappling", v.SuggestedSection)
	assert.Less(t, v.Confidence, models.ConfidenceInterpretive)
	assert.NotEmpty(t, v.Ruling)
}

func TestSynthesizeRetriesGroundingViolationOnce(t *testing.T) {
	// First response asserts an answer with no citations, second is valid.
	ungrounded := `{"ruling": "Yes it works.", "confidence": 0.9,
		"confidence_reason": "0.9 band", "citations": [],
		"insufficient_context": false}`
	gen := &scriptedGenerator{responses: []string{ungrounded, directAnswer}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), sneakAttackEvidence(), nil, testSources())
	require.NoError(t, err)

	assert.Equal(t, 2, gen.calls)
	assert.True(t, v.Grounded())
	require.Len(t, v.Citations, 1)
}

func TestSynthesizeDegradesAfterSecondViolation(t *testing.T) {
	ungrounded := `{"ruling": "Trust me.", "confidence": 0.95,
		"confidence_reason": "0.9 band", "citations": [9],
		"insufficient_context": false}`
	gen := &scriptedGenerator{responses: []string{ungrounded, ungrounded}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), sneakAttackEvidence(), nil, testSources())
	require.NoError(t, err)

	assert.Equal(t, 2, gen.calls, "exactly one retry")
	assert.True(t, v.InsufficientContext)
	assert.Less(t, v.Confidence, models.ConfidenceInterpretive)
	assert.Equal(t, "Combat > Sneak Attack", v.SuggestedSection)
}

func TestSynthesizeAttachesConflicts(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{directAnswer}}
	s := newTestSynthesizer(gen)

	conflicts := []models.Conflict{{
		Description: "Base and expansion disagree on scoring.",
		Resolution:  "Expansion takes precedence; both readings preserved.",
	}}

	v, err := s.Synthesize(context.Background(), question("q"), sneakAttackEvidence(), conflicts, testSources())
	require.NoError(t, err)

	require.Len(t, v.Conflicts, 1)
	assert.Contains(t, gen.prompts[0], "disagreements")
}

func TestSynthesizePromptCarriesTierAndHistory(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{directAnswer}}
	s := newTestSynthesizer(gen)

	q := question("What about thrown weapons?")
	q.History = []models.Turn{{Role: "user", Content: "How does sneak attack work?"}}

	evidence := sneakAttackEvidence()
	evidence[0].Chunk.Precedence = models.TierErrata.Precedence()

	_, err := s.Synthesize(context.Background(), q, evidence, nil, testSources())
	require.NoError(t, err)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "errata")
	assert.Contains(t, prompt, "How does sneak attack work?")
	assert.Contains(t, prompt, `section "Combat > Sneak Attack"`)
}

func TestSynthesizeDuplicateCitationsCollapsed(t *testing.T) {
	resp := `{"ruling": "Yes.", "confidence": 0.9,
		"confidence_reason": "0.9 band: direct.", "citations": [1, 1, 1],
		"insufficient_context": false}`
	gen := &scriptedGenerator{responses: []string{resp}}
	s := newTestSynthesizer(gen)

	v, err := s.Synthesize(context.Background(), question("q"), sneakAttackEvidence(), nil, testSources())
	require.NoError(t, err)
	assert.Len(t, v.Citations, 1)
}
