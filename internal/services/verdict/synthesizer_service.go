package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

const synthesisSystemPrompt = `You are a rules judge for tabletop games. You answer questions using ONLY the numbered evidence passages provided. You have no other knowledge of any game.

Hard constraints:
- Every fact in your ruling must come from the evidence passages. Never draw on outside knowledge of any game, even if you recognize it.
- If the evidence does not answer the question, say so: set insufficient_context to true and name the section of the rulebook most likely to contain the answer in suggested_section.
- When an errata or expansion passage overrides a base passage that is also present in the evidence, your ruling must explicitly say the higher tier overrides the lower.
- For multi-rule answers, write a reasoning trace that chains the rules: "Rule A states X. Rule B modifies X under condition Y. Therefore Z."
- Cite every passage you relied on by its number.

Confidence bands (choose the band first, then a value inside it):
- 0.9 to 1.0: the evidence directly and unambiguously answers the question
- 0.7 to 0.89: the answer combines multiple rules and is well supported
- 0.5 to 0.69: the answer requires interpretation and some ambiguity remains
- below 0.5: only when insufficient_context is true

confidence_reason must state which band applied and why.

Respond with ONLY a JSON object, no markdown fences:
{"ruling": "...", "reasoning": "...", "confidence": 0.0, "confidence_reason": "...", "citations": [1, 2], "follow_up": "", "insufficient_context": false, "suggested_section": ""}`

// Synthesizer produces grounded verdicts from the final evidence context.
// A response failing the grounding check is retried once, then degraded to
// the explicit insufficient-context verdict; a guessed answer never reaches
// the caller.
type Synthesizer struct {
	generator interfaces.GenerationProvider
	config    *common.VerdictConfig
	logger    arbor.ILogger
}

func NewSynthesizer(generator interfaces.GenerationProvider, config *common.VerdictConfig, logger arbor.ILogger) *Synthesizer {
	return &Synthesizer{
		generator: generator,
		config:    config,
		logger:    logger,
	}
}

// Synthesize builds the grounded prompt, runs generation, and validates the
// response against the grounding constraints. sources maps Source IDs to
// their records for citation naming.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	q *models.Question,
	evidence []*models.Evidence,
	conflicts []models.Conflict,
	sources map[string]*models.Source,
) (*models.Verdict, error) {
	if len(evidence) == 0 {
		return s.insufficientVerdict(q, evidence), nil
	}

	started := time.Now()
	prompt := s.buildPrompt(q, evidence, conflicts)

	var verdict *models.Verdict
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		response, err := s.generator.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("verdict generation failed: %w", err)
		}

		verdict, lastErr = s.validate(response, evidence, sources)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, models.ErrGroundingViolation) {
			return nil, lastErr
		}
		s.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Msg("Verdict failed grounding check")
	}

	if lastErr != nil {
		// Both attempts violated grounding: degrade rather than guess.
		verdict = s.insufficientVerdict(q, evidence)
	}

	if len(conflicts) > 0 && !verdict.InsufficientContext {
		verdict.Conflicts = conflicts
	}

	s.logger.Debug().
		Float64("confidence", verdict.Confidence).
		Int("citations", len(verdict.Citations)).
		Bool("insufficient", verdict.InsufficientContext).
		Dur("elapsed", time.Since(started)).
		Msg("Verdict synthesized")

	return verdict, nil
}

func (s *Synthesizer) buildPrompt(q *models.Question, evidence []*models.Evidence, conflicts []models.Conflict) []interfaces.Message {
	var b strings.Builder

	if len(q.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range q.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Evidence passages:\n")
	for i, ev := range evidence {
		c := ev.Chunk
		fmt.Fprintf(&b, "\n[%d] (%s, page %d, section %q)\n%s\n",
			i+1, tierLabel(c.Precedence), c.Page, c.Section(), c.Body)
	}

	if len(conflicts) > 0 {
		b.WriteString("\nKnown cross-tier disagreements in this evidence:\n")
		for _, conflict := range conflicts {
			fmt.Fprintf(&b, "- %s (%s)\n", conflict.Description, conflict.Resolution)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", q.Text)

	return []interfaces.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// rawVerdict is the model's JSON response shape.
type rawVerdict struct {
	Ruling              string  `json:"ruling"`
	Reasoning           string  `json:"reasoning"`
	Confidence          float64 `json:"confidence"`
	ConfidenceReason    string  `json:"confidence_reason"`
	Citations           []int   `json:"citations"`
	FollowUp            string  `json:"follow_up"`
	InsufficientContext bool    `json:"insufficient_context"`
	SuggestedSection    string  `json:"suggested_section"`
}

// validate enforces the grounding constraints on a model response and
// materializes citations from the evidence set.
func (s *Synthesizer) validate(response string, evidence []*models.Evidence, sources map[string]*models.Source) (*models.Verdict, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: response is not a JSON object", models.ErrGroundingViolation)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGroundingViolation, err)
	}

	if raw.InsufficientContext {
		v := &models.Verdict{
			Ruling:              raw.Ruling,
			Confidence:          clamp(raw.Confidence, 0, 0.49),
			ConfidenceReason:    raw.ConfidenceReason,
			InsufficientContext: true,
			SuggestedSection:    raw.SuggestedSection,
			FollowUp:            raw.FollowUp,
		}
		if v.Ruling == "" {
			v.Ruling = "The provided rules do not contain enough information to answer this question."
		}
		if v.ConfidenceReason == "" {
			v.ConfidenceReason = "Below 0.5 band: the evidence does not ground an answer."
		}
		if v.SuggestedSection == "" {
			v.SuggestedSection = topSection(evidence)
		}
		return v, nil
	}

	if strings.TrimSpace(raw.Ruling) == "" {
		return nil, fmt.Errorf("%w: empty ruling", models.ErrGroundingViolation)
	}
	if raw.Confidence < models.ConfidenceInterpretive {
		return nil, fmt.Errorf("%w: confidence %.2f asserts an answer below the interpretive band", models.ErrGroundingViolation, raw.Confidence)
	}
	if raw.Confidence > 1 {
		raw.Confidence = 1
	}
	if strings.TrimSpace(raw.ConfidenceReason) == "" {
		return nil, fmt.Errorf("%w: missing confidence_reason", models.ErrGroundingViolation)
	}
	if len(raw.Citations) == 0 {
		return nil, fmt.Errorf("%w: grounded ruling carries no citations", models.ErrGroundingViolation)
	}

	seen := make(map[int]bool)
	var citations []models.Citation
	for _, idx := range raw.Citations {
		if idx < 1 || idx > len(evidence) {
			return nil, fmt.Errorf("%w: citation index %d out of range", models.ErrGroundingViolation, idx)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true

		chunk := evidence[idx-1].Chunk
		citation := models.Citation{
			SourceID: chunk.SourceID,
			Excerpt:  chunk.Excerpt(models.CitationExcerptMax),
			Page:     chunk.Page,
			Section:  chunk.Section(),
			Official: chunk.Official,
		}
		if src, ok := sources[chunk.SourceID]; ok {
			citation.SourceName = src.Name
		}
		citations = append(citations, citation)
	}

	return &models.Verdict{
		Ruling:           raw.Ruling,
		Reasoning:        raw.Reasoning,
		Confidence:       raw.Confidence,
		ConfidenceReason: raw.ConfidenceReason,
		Citations:        citations,
		FollowUp:         raw.FollowUp,
	}, nil
}

// insufficientVerdict is the defined low-evidence verdict state.
func (s *Synthesizer) insufficientVerdict(q *models.Question, evidence []*models.Evidence) *models.Verdict {
	section := topSection(evidence)
	ruling := "The provided rules do not contain enough information to answer this question."
	if section != "" {
		ruling += fmt.Sprintf(" Check the %q section of the rulebook manually.", section)
	}

	return &models.Verdict{
		Ruling:              ruling,
		Confidence:          0.2,
		ConfidenceReason:    "Below 0.5 band: no evidence passage grounds an answer to this question.",
		InsufficientContext: true,
		SuggestedSection:    section,
	}
}

// topSection names the most plausible section to check manually: the
// section of the best-ranked evidence, if any survived retrieval.
func topSection(evidence []*models.Evidence) string {
	for _, ev := range evidence {
		if section := ev.Chunk.Section(); section != "" {
			return section
		}
	}
	return ""
}

func tierLabel(precedence int) string {
	switch {
	case precedence >= models.TierErrata.Precedence():
		return "errata"
	case precedence >= models.TierExpansion.Precedence():
		return "expansion"
	default:
		return "base rules"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
