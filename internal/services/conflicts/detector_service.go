package conflicts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/common"
	"github.com/ternarybob/regula/internal/interfaces"
	"github.com/ternarybob/regula/internal/models"
)

// Candidate pairs share enough vocabulary to plausibly cover the same
// topic, but sit below the near-duplicate threshold where precedence
// resolves the pair outright.
const topicOverlapMin = 0.2

const detectSystemPrompt = `You compare pairs of tabletop rules passages from different rulebook tiers (base rules, expansions, errata).

For each numbered pair, decide whether the two passages GENUINELY DISAGREE: they address the same rule or situation but state incompatible outcomes. Different phrasing of the same outcome is NOT a conflict. Rules about different situations are NOT a conflict.

Respond with ONLY a JSON array, one object per pair in order:
[{"conflict": true|false, "description": "<one sentence naming the rule and both readings>", "resolution": "<one sentence stating which tier takes precedence, noting both readings remain>"}]

Use empty strings for description and resolution when conflict is false.`

// Detector flags contradictory evidence from different precedence tiers.
// Precedence resolves ranking, not truth: pairs that genuinely disagree are
// surfaced with both readings instead of silently resolved.
type Detector struct {
	generator interfaces.GenerationProvider
	threshold float64
	logger    arbor.ILogger
}

func NewDetector(generator interfaces.GenerationProvider, config *common.VerdictConfig, logger arbor.ILogger) *Detector {
	return &Detector{
		generator: generator,
		threshold: config.JaccardThreshold,
		logger:    logger,
	}
}

type candidatePair struct {
	a, b *models.Evidence
}

// Detect examines the final synthesis context for genuine cross-tier
// disagreements. Near-duplicate pairs are excluded: those are superseded
// text, already resolved by the hierarchy pass.
func (d *Detector) Detect(ctx context.Context, evidence []*models.Evidence) ([]models.Conflict, error) {
	pairs := d.candidates(evidence)
	if len(pairs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Pairs:\n")
	for i, pair := range pairs {
		fmt.Fprintf(&b, "\n[%d]\nPassage A (precedence %d): %s\nPassage B (precedence %d): %s\n",
			i+1,
			pair.a.Chunk.Precedence, pair.a.Chunk.Body,
			pair.b.Chunk.Precedence, pair.b.Chunk.Body)
	}

	messages := []interfaces.Message{
		{Role: "system", Content: detectSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	response, err := d.generator.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("conflict detection call failed: %w", err)
	}

	verdicts, err := parseDetections(response, len(pairs))
	if err != nil {
		return nil, fmt.Errorf("conflict detection response invalid: %w", err)
	}

	var conflicts []models.Conflict
	for i, v := range verdicts {
		if !v.Conflict {
			continue
		}
		conflict := models.Conflict{
			Description: v.Description,
			Resolution:  v.Resolution,
		}
		if conflict.Resolution == "" {
			higher := pairs[i].a
			if pairs[i].b.Chunk.Precedence > higher.Chunk.Precedence {
				higher = pairs[i].b
			}
			conflict.Resolution = fmt.Sprintf(
				"The %s reading takes precedence; both readings are preserved above.",
				tierName(higher.Chunk.Precedence))
		}
		conflicts = append(conflicts, conflict)
	}

	d.logger.Debug().
		Int("pairs_checked", len(pairs)).
		Int("conflicts", len(conflicts)).
		Msg("Conflict detection complete")

	return conflicts, nil
}

// candidates selects cross-tier pairs with topical overlap that are not
// near-duplicates of each other.
func (d *Detector) candidates(evidence []*models.Evidence) []candidatePair {
	var pairs []candidatePair
	for i := 0; i < len(evidence); i++ {
		for j := i + 1; j < len(evidence); j++ {
			a, b := evidence[i], evidence[j]
			if a.Chunk.Precedence == b.Chunk.Precedence {
				continue
			}
			overlap := common.Jaccard(a.Chunk.Body, b.Chunk.Body)
			if overlap < topicOverlapMin || overlap >= d.threshold {
				continue
			}
			pairs = append(pairs, candidatePair{a: a, b: b})
		}
	}
	return pairs
}

type detection struct {
	Conflict    bool   `json:"conflict"`
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
}

func parseDetections(response string, want int) ([]detection, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var out []detection
	if err := json.Unmarshal([]byte(response[start:end+1]), &out); err != nil {
		return nil, err
	}
	if len(out) != want {
		return nil, fmt.Errorf("got %d detections for %d pairs", len(out), want)
	}
	return out, nil
}

func tierName(precedence int) string {
	switch {
	case precedence >= models.TierErrata.Precedence():
		return "errata"
	case precedence >= models.TierExpansion.Precedence():
		return "expansion"
	default:
		return "base rules"
	}
}
